package profiles

import (
	"sort"
	"strings"
	"sync"

	"github.com/ohmvision/camconnect/internal/probe"
)

const GenericID = "generic"

// Registry maps manufacturer identifiers to profiles. Lookups are pure;
// unknown manufacturers degrade to the generic profile without error.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

func NewRegistry() *Registry {
	r := &Registry{profiles: map[string]*Profile{}}
	for _, p := range builtinProfiles() {
		r.profiles[p.ID] = p
	}
	return r
}

// Get returns the profile for a manufacturer, falling back to generic.
func (r *Registry) Get(id string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[strings.ToLower(strings.TrimSpace(id))]; ok {
		return p
	}
	return r.profiles[GenericID]
}

// Known reports whether the identifier names a real profile (not a
// generic fallback).
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// TemplatesFor returns the raw templates for a manufacturer, for UI
// display and editing.
func (r *Registry) TemplatesFor(id string) []URLTemplate {
	p := r.Get(id)
	out := make([]URLTemplate, len(p.Templates))
	copy(out, p.Templates)
	return out
}

// List returns summaries of every registered profile, sorted by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put inserts or replaces a profile. Used by the overrides loader; builtin
// data never changes at runtime otherwise.
func (r *Registry) Put(p *Profile) error {
	if err := p.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[strings.ToLower(p.ID)] = p
	return nil
}

// ouiIndex maps MAC address OUI prefixes to manufacturer ids.
var ouiIndex = map[string]string{
	"001D7E": "hikvision",
	"448544": "hikvision",
	"A4146B": "dahua",
	"C03D46": "dahua",
	"00408C": "axis",
	"ACCC8C": "axis",
	"C4BE84": "foscam",
	"98D6F7": "foscam",
	"000D42": "vivotek",
	"00501E": "vivotek",
	"0004F2": "bosch",
	"001921": "bosch",
	"001FC6": "tplink",
	"341863": "xiaomi",
}

// DetectManufacturer resolves a hint (profile id, display name, or MAC
// address) to a manufacturer id. Empty string means unknown.
func (r *Registry) DetectManufacturer(hint string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	if h == "" {
		return ""
	}

	r.mu.RLock()
	if _, ok := r.profiles[h]; ok {
		r.mu.RUnlock()
		return h
	}
	for id, p := range r.profiles {
		if strings.EqualFold(p.Name, hint) {
			r.mu.RUnlock()
			return id
		}
	}
	r.mu.RUnlock()

	// MAC OUI lookup.
	mac := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(hint))
	if len(mac) >= 6 {
		if id, ok := ouiIndex[mac[:6]]; ok {
			return id
		}
	}
	return ""
}

// builtinProfiles is the static knowledge base. Professional, consumer and
// cloud-only brands, plus the generic fallback.
func builtinProfiles() []*Profile {
	return []*Profile{
		{
			ID: "hikvision", Name: "Hikvision",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{"ptz", "audio", "alarm_io", "smart_events"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/Streaming/Channels/{channel}01", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/Streaming/Channels/{channel}02", Role: RoleSub},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/h264/ch{channel}/main/av_stream", Role: RoleMain},
				{Type: probe.TypeONVIF, Pattern: "http://{host}:{port}/onvif/device_service", Role: RoleMain},
				{Type: probe.TypeHTTPMJPEG, Pattern: "http://{host}:{port}/ISAPI/Streaming/channels/{channel}01/httpPreview", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/ISAPI/Streaming/channels/{channel}/picture", Role: RoleSnapshot},
			},
		},
		{
			ID: "dahua", Name: "Dahua",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{"ptz", "audio", "alarm_io", "smart_codec"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/cam/realmonitor?channel={channel}&subtype=0", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/cam/realmonitor?channel={channel}&subtype=1", Role: RoleSub},
				{Type: probe.TypeONVIF, Pattern: "http://{host}:{port}/onvif/device_service", Role: RoleMain},
				{Type: probe.TypeHTTPMJPEG, Pattern: "http://{host}:{port}/cgi-bin/mjpg/video.cgi?channel={channel}&subtype=0", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/cgi-bin/snapshot.cgi?channel={channel}", Role: RoleSnapshot},
			},
		},
		{
			ID: "axis", Name: "Axis",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "root",
			ONVIFSupported: true,
			Capabilities:   []string{"ptz", "audio", "analytics", "zipstream"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/axis-media/media.amp", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/axis-media/media.amp?videocodec=h264", Role: RoleMain},
				{Type: probe.TypeONVIF, Pattern: "http://{host}:{port}/onvif/device_service", Role: RoleMain},
				{Type: probe.TypeHTTPMJPEG, Pattern: "http://{host}:{port}/axis-cgi/mjpg/video.cgi", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/axis-cgi/jpg/image.cgi", Role: RoleSnapshot},
			},
		},
		{
			ID: "foscam", Name: "Foscam",
			DefaultPort: 554, DefaultHTTPPort: 88, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{"ptz", "audio"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/videoMain", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/videoSub", Role: RoleSub},
				{Type: probe.TypeHTTPMJPEG, Pattern: "http://{host}:{port}/cgi-bin/CGIStream.cgi?cmd=GetMJStream&usr={username}&pwd={password}", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/cgi-bin/CGIProxy.fcgi?cmd=snapPicture2&usr={username}&pwd={password}", Role: RoleSnapshot},
			},
		},
		{
			ID: "vivotek", Name: "Vivotek",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "root",
			ONVIFSupported: true,
			Capabilities:   []string{"analytics", "audio"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/live.sdp", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/live/ch00_0", Role: RoleMain},
				{Type: probe.TypeHTTPMJPEG, Pattern: "http://{host}:{port}/video.mjpg", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/cgi-bin/viewer/snapshot.jpg", Role: RoleSnapshot},
			},
		},
		{
			ID: "bosch", Name: "Bosch",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "service",
			ONVIFSupported: true,
			Capabilities:   []string{"analytics", "intelligent_tracking"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/rtsp_tunnel", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/snap.jpg?JpegCam={channel}", Role: RoleSnapshot},
			},
		},
		{
			ID: "uniview", Name: "Uniview",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{"ptz", "smart_ir"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/unicast/c{channel}/s0/live", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/unicast/c{channel}/s1/live", Role: RoleSub},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/cgi-bin/snapshot.cgi?channel={channel}", Role: RoleSnapshot},
			},
		},
		{
			ID: "hanwha", Name: "Hanwha",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{"wisenet", "analytics"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/profile{stream}/media.smp", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/cgi-bin/snapshot.cgi", Role: RoleSnapshot},
			},
		},
		{
			ID: "reolink", Name: "Reolink",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{"ptz", "audio", "person_vehicle_detection"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/h264Preview_01_main", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/h264Preview_01_sub", Role: RoleSub},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/cgi-bin/api.cgi?cmd=Snap&channel=0&user={username}&password={password}", Role: RoleSnapshot},
			},
		},
		{
			ID: "tplink", Name: "TP-Link",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{"motion_detection", "audio"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/stream1", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/stream2", Role: RoleSub},
			},
		},
		{
			ID: "xiaomi", Name: "Xiaomi",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: false,
			Capabilities:   []string{"cloud", "ai_detection"},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/live/ch00_0", Role: RoleMain},
			},
		},
		// Cloud-only brands: the probe target is the vendor API, not the LAN.
		{
			ID: "nest", Name: "Google Nest", CloudOnly: true,
			Capabilities: []string{"cloud_recording", "alerts", "person_detection"},
			Templates: []URLTemplate{
				{Type: probe.TypeCloudAPI, Pattern: "https://smartdevicemanagement.googleapis.com/v1", Role: RoleMain},
			},
		},
		{
			ID: "ring", Name: "Amazon Ring", CloudOnly: true,
			Capabilities: []string{"cloud_recording", "motion_alerts", "doorbell"},
			Templates: []URLTemplate{
				{Type: probe.TypeCloudAPI, Pattern: "https://api.ring.com/clients_api", Role: RoleMain},
			},
		},
		{
			ID: "arlo", Name: "Arlo", CloudOnly: true,
			Capabilities: []string{"cloud_recording", "smart_alerts", "zones"},
			Templates: []URLTemplate{
				{Type: probe.TypeCloudAPI, Pattern: "https://myapi.arlo.com/hmsweb", Role: RoleMain},
			},
		},
		{
			ID: "wyze", Name: "Wyze", CloudOnly: true,
			Capabilities: []string{"cloud_recording", "motion_detection", "rtsp_firmware"},
			Templates: []URLTemplate{
				{Type: probe.TypeCloudAPI, Pattern: "https://api.wyze.com", Role: RoleMain},
				// RTSP is available on the alternative firmware.
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/live", Role: RoleMain},
			},
		},
		{
			ID: "generic", Name: "Generic",
			DefaultPort: 554, DefaultHTTPPort: 80, DefaultUsername: "admin",
			ONVIFSupported: true,
			Capabilities:   []string{},
			Templates: []URLTemplate{
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/stream1", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/stream", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/live", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/h264", Role: RoleMain},
				{Type: probe.TypeRTSP, Pattern: "rtsp://{auth}{host}:{port}/video", Role: RoleMain},
				{Type: probe.TypeONVIF, Pattern: "http://{host}:{port}/onvif/device_service", Role: RoleMain},
				{Type: probe.TypeHTTPMJPEG, Pattern: "http://{host}:{port}/video.mjpg", Role: RoleMain},
				{Type: probe.TypeHTTPMJPEG, Pattern: "http://{host}:{port}/mjpg/video.mjpg", Role: RoleMain},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/snapshot.jpg", Role: RoleSnapshot},
				{Type: probe.TypeHTTPSSnapshot, Pattern: "http://{host}:{port}/snap.jpg", Role: RoleSnapshot},
			},
		},
	}
}
