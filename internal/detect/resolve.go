package detect

import (
	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/monitor"
	"github.com/ohmvision/camconnect/internal/probe"
)

// Resolve turns a detection report into the durable per-camera connection
// record. The recommended result becomes the primary endpoint; the other
// successful results fill the secondary stream and snapshot endpoints when
// the device offers them.
func (e *Engine) Resolve(cameraID uuid.UUID, target DeviceTarget, report *Report) (monitor.ResolvedConnection, error) {
	if report == nil || report.Recommended == nil {
		return monitor.ResolvedConnection{}, &ConfigError{Msg: "no working connection found for device"}
	}
	rec := *report.Recommended

	conn := monitor.ResolvedConnection{
		CameraID:     cameraID,
		Type:         rec.Type,
		PrimaryURL:   rec.URL,
		Manufacturer: rec.Manufacturer,
		Username:     target.Username,
		Password:     target.Password,
	}
	if conn.Manufacturer == "" {
		conn.Manufacturer = target.Manufacturer
	}

	for _, res := range report.All {
		if !res.Success || res.URL == rec.URL {
			continue
		}
		switch {
		case conn.SecondaryURL == "" && res.Type == rec.Type:
			conn.SecondaryURL = res.URL
		case conn.SnapshotURL == "" && res.Type == probe.TypeHTTPSSnapshot:
			conn.SnapshotURL = res.URL
		}
	}
	return conn, nil
}
