package model

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Contributor holds the contributor identity fields reported with each
// contribution.
type Contributor struct {
	NameFirst  string `json:"name_first"`
	NameLast   string `json:"name_last"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	Zip        string `json:"zip"`
	Employer   string `json:"employer,omitempty"`
	Occupation string `json:"occupation,omitempty"`
}

// Billing holds the gateway billing token. The raw card number is never
// stored; only its one-way hash and last four digits survive intake.
type Billing struct {
	CardToken string `json:"card_token"`
}

// ContributorProfile is the contributor and billing information used for a
// pledge or tip. Instances are immutable once referenced; a changed address
// or card produces a new profile. May be shared across pledges of one user.
type ContributorProfile struct {
	ID           int64        `json:"-"`
	ProfileID    string       `json:"profile_id"`
	CCLastFour   string       `json:"cc_last_four,omitempty"`
	CCNumberHash string       `json:"-"`
	IsGeocoded   bool         `json:"is_geocoded"`
	Extra        ProfileExtra `json:"extra"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SetCardNumber stores the last four digits for indexed narrowing and a
// bcrypt hash for verification, then discards the number.
func (p *ContributorProfile) SetCardNumber(ccNumber string) error {
	ccNumber = strings.ReplaceAll(ccNumber, " ", "")
	if len(ccNumber) >= 4 {
		p.CCLastFour = ccNumber[len(ccNumber)-4:]
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(ccNumber), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.CCNumberHash = string(hash)
	return nil
}

// MatchesCardNumber verifies a candidate card number against the stored
// hash. bcrypt's comparison is constant-time over the digest.
func (p *ContributorProfile) MatchesCardNumber(ccNumber string) bool {
	ccNumber = strings.ReplaceAll(ccNumber, " ", "")
	return bcrypt.CompareHashAndPassword([]byte(p.CCNumberHash), []byte(ccNumber)) == nil
}

// Name returns the contributor's display name.
func (p *ContributorProfile) Name() string {
	c := p.Extra.Contributor
	return strings.TrimSpace(c.NameFirst + " " + c.NameLast)
}

// Address returns the contributor's city and state.
func (p *ContributorProfile) Address() string {
	c := p.Extra.Contributor
	return c.City + ", " + c.State
}
