package api

import (
	"time"

	"github.com/dnspause/dnspause"
)

// profilesResponse is the wire shape of GET /profiles.
type profilesResponse struct {
	Success bool `json:"success"`
	Body    struct {
		Profiles []wireProfile `json:"profiles"`
	} `json:"body"`
}

// wireProfile is a single profile as returned by the service.
// disable_ttl is an absolute unix timestamp; null or 0 means active now.
type wireProfile struct {
	PK         string `json:"PK"`
	Name       string `json:"name"`
	Updated    int64  `json:"updated"`
	DisableTTL int64  `json:"disable_ttl"`
}

// updateProfileRequest is the wire shape of the PUT /profiles/{id} body.
// A DisableTTL of 0 re-enables the profile.
type updateProfileRequest struct {
	DisableTTL int64 `json:"disable_ttl"`
}

// updateProfileResponse is the wire shape of the PUT /profiles/{id} response.
type updateProfileResponse struct {
	Success bool `json:"success"`
	Body    *struct {
		Message string `json:"message,omitempty"`
	} `json:"body,omitempty"`
}

// toProfile converts a wire profile to the domain type.
func (w wireProfile) toProfile() dnspause.Profile {
	p := dnspause.Profile{
		ID:   w.PK,
		Name: w.Name,
	}
	if w.Updated > 0 {
		p.Updated = time.Unix(w.Updated, 0).UTC()
	}
	if w.DisableTTL > 0 {
		p.DisableUntil = time.Unix(w.DisableTTL, 0).UTC()
	}
	return p
}
