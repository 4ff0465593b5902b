package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenTestRig/internal/devices"
	"github.com/KevinKickass/OpenTestRig/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	vendors, err := s.lm.Profiles().Vendors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROFILE_500", "Failed to list profiles", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vendors": vendors,
		"count":   len(vendors),
	})
}

// GET /api/v1/profiles/:vendor
func (s *Server) getVendorProfiles(c *gin.Context) {
	vendor := c.Param("vendor")

	vendors, err := s.lm.Profiles().Vendors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROFILE_500", "Failed to list profiles", err.Error()))
		return
	}

	for _, v := range vendors {
		if strings.EqualFold(v.Vendor, vendor) {
			c.JSON(http.StatusOK, v)
			return
		}
	}

	c.JSON(http.StatusNotFound, types.NewErrorResponse("PROFILE_404", "Vendor not found", vendor))
}

// GET /api/v1/profiles/:vendor/:model
func (s *Server) getProfile(c *gin.Context) {
	ref := c.Param("vendor") + "/" + c.Param("model")

	profile, err := s.lm.Profiles().Load(ref)
	if err != nil {
		switch {
		case errors.Is(err, devices.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, types.NewErrorResponse("PROFILE_404", "Profile not found", ref))
		case errors.Is(err, devices.ErrInvalidProfile):
			c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("PROFILE_422", "Profile is invalid", err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROFILE_500", "Failed to load profile", err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, profile)
}

// POST /api/v1/profiles/reload
func (s *Server) reloadProfiles(c *gin.Context) {
	loader := s.lm.Profiles()
	loader.ClearCache()

	s.logger.Info("Profile cache cleared", zap.Strings("search_paths", loader.SearchPaths()))
	c.JSON(http.StatusOK, gin.H{
		"reloaded":     true,
		"search_paths": loader.SearchPaths(),
	})
}
