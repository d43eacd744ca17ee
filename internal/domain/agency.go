package domain

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"
	"time"
)

// Agency is a travel agency directory record.
type Agency struct {
	ID           string    `json:"id"`
	Name         string    `json:"agency_name"`
	Owner        string    `json:"agency_owner"`
	Address      string    `json:"agency_address"`
	Email        string    `json:"email"`
	Telephone    string    `json:"telephone"`
	LogoFilename *string   `json:"logo_filename"`
	HasLogo      bool      `json:"has_logo"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *Agency) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: agency name is required", ErrValidation)
	}
	if strings.TrimSpace(a.Owner) == "" {
		return fmt.Errorf("%w: agency owner is required", ErrValidation)
	}
	return ValidateEmail(a.Email)
}

// AgencyUpdate carries the fields to change; nil fields are kept.
type AgencyUpdate struct {
	Name      *string
	Owner     *string
	Address   *string
	Email     *string
	Telephone *string
}

func (u AgencyUpdate) IsEmpty() bool {
	return u.Name == nil && u.Owner == nil && u.Address == nil && u.Email == nil && u.Telephone == nil
}

func (u AgencyUpdate) ApplyTo(a *Agency) {
	if u.Name != nil {
		a.Name = strings.TrimSpace(*u.Name)
	}
	if u.Owner != nil {
		a.Owner = strings.TrimSpace(*u.Owner)
	}
	if u.Address != nil {
		a.Address = strings.TrimSpace(*u.Address)
	}
	if u.Email != nil {
		a.Email = strings.TrimSpace(*u.Email)
	}
	if u.Telephone != nil {
		a.Telephone = strings.TrimSpace(*u.Telephone)
	}
}

// ValidateEmail accepts an empty address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email format %q", ErrValidation, email)
	}
	return nil
}

// NormalizeAgencyName lowercases and collapses whitespace for name comparisons.
func NormalizeAgencyName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

const agencyIDPrefix = "AGN"

func FormatAgencyID(number int) string {
	return fmt.Sprintf("%s%03d", agencyIDPrefix, number)
}

// NextAgencyID returns the id after the highest AGN number in ids.
func NextAgencyID(ids []string) string {
	highest := 0
	for _, id := range ids {
		if n, ok := ParseBatchNumber(agencyIDPrefix, id); ok && n > highest {
			highest = n
		}
	}
	return FormatAgencyID(highest + 1)
}

var logoExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".svg": true,
}

// LogoExtension returns the lower-cased extension of filename if it is an accepted image type.
func LogoExtension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !logoExtensions[ext] {
		return "", fmt.Errorf("%w: invalid logo file type %q, allowed: .png .jpg .jpeg .gif .bmp .svg", ErrValidation, ext)
	}
	return ext, nil
}
