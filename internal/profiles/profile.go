package profiles

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ohmvision/camconnect/internal/probe"
)

// Role marks what a template's URL is for. Detection probes main-stream and
// snapshot templates; sub streams are filled into the resolved connection
// without being probed separately.
type Role string

const (
	RoleMain     Role = "main"
	RoleSub      Role = "sub"
	RoleSnapshot Role = "snapshot"
)

// URLTemplate is a parametrized endpoint pattern for one connection type.
// Placeholders: {auth} {host} {port} {channel} {stream} {username} {password}.
type URLTemplate struct {
	Type    probe.ConnectionType `yaml:"type"`
	Pattern string               `yaml:"pattern"`
	Role    Role                 `yaml:"role"`
	Port    int                  `yaml:"port,omitempty"`
}

// Profile is the static knowledge about one manufacturer. Pure data: adding
// a manufacturer touches nothing outside this package.
type Profile struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	DefaultPort     int           `yaml:"default_port"`
	DefaultHTTPPort int           `yaml:"default_http_port"`
	DefaultUsername string        `yaml:"default_username"`
	DefaultPassword string        `yaml:"default_password"`
	ONVIFSupported  bool          `yaml:"onvif_supported"`
	CloudOnly       bool          `yaml:"cloud_only"`
	Capabilities    []string      `yaml:"capabilities"`
	Templates       []URLTemplate `yaml:"templates"`
}

// ExpandInput carries the per-device values substituted into templates.
type ExpandInput struct {
	Host     string
	Port     int // 0 means use the template/profile default
	Username string
	Password string
	Channel  int // 0 means channel 1
	Stream   int // 0 means main stream
}

// Expand resolves every template of the profile into concrete candidates,
// in declaration order. Credentials fall back to the profile defaults when
// the caller supplies none.
func (p *Profile) Expand(in ExpandInput) []probe.Candidate {
	user := in.Username
	pass := in.Password
	if user == "" {
		user = p.DefaultUsername
		pass = p.DefaultPassword
	}
	channel := in.Channel
	if channel == 0 {
		channel = 1
	}
	stream := in.Stream

	out := make([]probe.Candidate, 0, len(p.Templates))
	for _, t := range p.Templates {
		port := in.Port
		if port == 0 {
			port = t.Port
		}
		if port == 0 {
			port = p.portFor(t.Type)
		}
		out = append(out, probe.Candidate{
			Type:         t.Type,
			URL:          substitute(t.Pattern, in.Host, port, user, pass, channel, stream),
			Source:       probe.SourceTemplate,
			Manufacturer: p.ID,
			Capabilities: p.Capabilities,
			Username:     user,
			Password:     pass,
		})
	}
	return out
}

func (p *Profile) portFor(t probe.ConnectionType) int {
	switch t {
	case probe.TypeRTSP, probe.TypeNVRDVR:
		if p.DefaultPort != 0 {
			return p.DefaultPort
		}
		return 554
	case probe.TypeRTMP:
		return 1935
	default:
		if p.DefaultHTTPPort != 0 {
			return p.DefaultHTTPPort
		}
		return 80
	}
}

// substitute fills template placeholders. {auth} renders "user:pass@" with
// both parts URL-escaped, or empty when no username is set.
func substitute(pattern, host string, port int, user, pass string, channel, stream int) string {
	auth := ""
	if user != "" {
		auth = url.QueryEscape(user) + ":" + url.QueryEscape(pass) + "@"
	}
	r := strings.NewReplacer(
		"{auth}", auth,
		"{host}", host,
		"{port}", strconv.Itoa(port),
		"{channel}", strconv.Itoa(channel),
		"{stream}", strconv.Itoa(stream),
		"{username}", url.QueryEscape(user),
		"{password}", url.QueryEscape(pass),
	)
	return r.Replace(pattern)
}

// Summary is the API-facing shape for listing manufacturers.
type Summary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	DefaultPort    int      `json:"default_port"`
	ONVIFSupported bool     `json:"onvif_supported"`
	CloudOnly      bool     `json:"cloud_only,omitempty"`
	Capabilities   []string `json:"capabilities"`
}

func (p *Profile) Summary() Summary {
	return Summary{
		ID:             p.ID,
		Name:           p.Name,
		DefaultPort:    p.DefaultPort,
		ONVIFSupported: p.ONVIFSupported,
		CloudOnly:      p.CloudOnly,
		Capabilities:   p.Capabilities,
	}
}

func (p *Profile) validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile missing id")
	}
	for _, t := range p.Templates {
		if t.Pattern == "" {
			return fmt.Errorf("profile %s: template without pattern", p.ID)
		}
		if t.Type == "" {
			return fmt.Errorf("profile %s: template without type", p.ID)
		}
	}
	return nil
}
