package machine

// Observer receives facade events. Calls are synchronous, in registration
// order, and happen at most once per actual transition.
type Observer interface {
	BusyStateChanged(busy bool)
	ReadyStateChanged()
	ActionRejected(reason string)
	PowerUnitStateChanged(on bool)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnBusy     func(busy bool)
	OnReady    func()
	OnRejected func(reason string)
	OnPower    func(on bool)
}

func (f *ObserverFuncs) BusyStateChanged(busy bool) {
	if f.OnBusy != nil {
		f.OnBusy(busy)
	}
}

func (f *ObserverFuncs) ReadyStateChanged() {
	if f.OnReady != nil {
		f.OnReady()
	}
}

func (f *ObserverFuncs) ActionRejected(reason string) {
	if f.OnRejected != nil {
		f.OnRejected(reason)
	}
}

func (f *ObserverFuncs) PowerUnitStateChanged(on bool) {
	if f.OnPower != nil {
		f.OnPower(on)
	}
}

func (l *Logic) RegisterObserver(o Observer) {
	if o == nil {
		return
	}
	for _, existing := range l.observers {
		if existing == o {
			return
		}
	}
	l.observers = append(l.observers, o)
}

func (l *Logic) UnregisterObserver(o Observer) {
	for i, existing := range l.observers {
		if existing == o {
			l.observers = append(l.observers[:i:i], l.observers[i+1:]...)
			return
		}
	}
}

// notify iterates over a copy so observers may unregister while handling.
func (l *Logic) notify(fn func(o Observer)) {
	observers := append([]Observer(nil), l.observers...)
	for _, o := range observers {
		fn(o)
	}
}
