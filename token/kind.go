package token

import "fmt"

// Kind selects one of the two bearer credentials held by a session.
type Kind int

const (
	Access Kind = iota
	Refresh
)

func (k Kind) String() string {
	switch k {
	case Access:
		return "access_token"
	case Refresh:
		return "refresh_token"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Pair is the unit a Store persists. The JSON keys are the storage keys.
type Pair struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (p Pair) Get(kind Kind) string {
	if kind == Refresh {
		return p.RefreshToken
	}
	return p.AccessToken
}

func (p Pair) With(kind Kind, value string) Pair {
	if kind == Refresh {
		p.RefreshToken = value
	} else {
		p.AccessToken = value
	}
	return p
}

func (p Pair) IsEmpty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}
