package endpoint

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/satellite"
)

// SatelliteAPI is the slice of the capability router the admin endpoints
// need. *router.Router implements it.
type SatelliteAPI interface {
	Snapshots() []satellite.Snapshot
	Snapshot(providerID string) (satellite.Snapshot, error)
	Reset(ctx context.Context, providerID string) error
}

// Satellites returns a handler listing every active satellite's snapshot.
func Satellites(api SatelliteAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"satellites": api.Snapshots()})
	}
}

// Satellite returns a handler reporting one satellite's snapshot.
func Satellite(api SatelliteAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := api.Snapshot(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// ResetSatellite returns a handler that restores a Terminated satellite to
// service. Resetting a satellite in any other state fails.
func ResetSatellite(api SatelliteAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := api.Reset(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"provider_id": id, "status": "reset"})
	}
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.Internal(err).ToResponse())
}
