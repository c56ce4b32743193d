package imagegate

import (
	"net/url"
	"strings"
)

// Classification reasons.
const (
	ReasonEmpty             = "empty"
	ReasonFirstParty        = "first_party"
	ReasonLocalPath         = "local_path"
	ReasonEphemeralProvider = "ephemeral_provider"
	ReasonExternal          = "external"
	ReasonUnsupportedScheme = "unsupported_scheme"
)

// ephemeralHosts are image providers whose URLs expire within hours.
var ephemeralHosts = []string{
	"oaidalleapiprodscus.blob.core.windows.net",
	"dalleprodsec.blob.core.windows.net",
	"replicate.delivery",
	"fal.media",
	"storage.googleapis.com/generativeai",
	"imagegeneration.googleapis.com",
}

// Classification describes how an image URL must be treated at save time.
type Classification struct {
	IsFirstParty   bool   `json:"isFirstParty"`
	NeedsIngestion bool   `json:"needsIngestion"`
	Reason         string `json:"reason"`
}

// Classifier matches URLs against the application's own storage prefixes.
type Classifier struct {
	prefixes []string
}

// NewClassifier creates a Classifier. Empty prefixes are ignored, and every
// prefix is closed with a trailing slash so "https://cdn.example.com" cannot
// match "https://cdn.example.com.evil.net/...".
func NewClassifier(prefixes ...string) *Classifier {
	c := &Classifier{}
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			if !strings.HasSuffix(p, "/") {
				p += "/"
			}
			c.prefixes = append(c.prefixes, p)
		}
	}
	return c
}

// Prefixes returns the configured first-party prefixes.
func (c *Classifier) Prefixes() []string {
	return append([]string(nil), c.prefixes...)
}

// Classify decides whether raw is first-party, must be ingested, or neither.
// Scheme-less paths are served by the application itself and count as first-party.
func (c *Classifier) Classify(raw string) Classification {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Classification{Reason: ReasonEmpty}
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(raw, p) {
			return Classification{IsFirstParty: true, Reason: ReasonFirstParty}
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Classification{Reason: ReasonUnsupportedScheme}
	}
	switch strings.ToLower(u.Scheme) {
	case "":
		if u.Host != "" {
			// protocol-relative //host/path
			return Classification{NeedsIngestion: true, Reason: ReasonExternal}
		}
		return Classification{IsFirstParty: true, Reason: ReasonLocalPath}
	case "http", "https":
	default:
		return Classification{Reason: ReasonUnsupportedScheme}
	}

	hostPath := strings.ToLower(u.Host + u.Path)
	for _, h := range ephemeralHosts {
		if strings.HasPrefix(hostPath, h) || strings.Contains(hostPath, "."+h) {
			return Classification{NeedsIngestion: true, Reason: ReasonEphemeralProvider}
		}
	}
	return Classification{NeedsIngestion: true, Reason: ReasonExternal}
}
