package types

// VendorIndex is the index.yaml at the root of a vendor directory.
type VendorIndex struct {
	Vendor      string       `yaml:"vendor" json:"vendor"`
	Description string       `yaml:"description" json:"description,omitempty"`
	Website     string       `yaml:"website" json:"website,omitempty"`
	Profiles    []ProfileRef `yaml:"profiles" json:"profiles"`
}

type ProfileRef struct {
	ID          string `yaml:"id" json:"id"`
	Model       string `yaml:"model" json:"model"`
	File        string `yaml:"file" json:"file"`
	Name        string `yaml:"name" json:"name,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
	Capacity    string `yaml:"capacity" json:"capacity,omitempty"`
	Tested      bool   `yaml:"tested" json:"tested"`
}
