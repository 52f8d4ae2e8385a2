// Package access decides who may create, list, view, review and assign
// prediction records.
//
// Callers resolve the record first and report a missing one as not found;
// the gate only ever answers with nil or an error wrapping domain.ErrForbidden.
package access

import (
	"fmt"

	"github.com/mri-screening-server/internal/domain"
)

// Principal is the authenticated caller. The set of implementations is closed:
// Admin, Doctor and Patient.
type Principal interface {
	UserID() string
	Role() domain.Role
	principal()
}

// Admin can see and review every record but never uploads.
type Admin struct{ ID string }

// Doctor reviews records assigned to them or still unassigned.
type Doctor struct {
	ID       string
	Approved bool
}

// Patient uploads scans and sees only their own records.
type Patient struct{ ID string }

func (a Admin) UserID() string    { return a.ID }
func (a Admin) Role() domain.Role { return domain.ADMIN }
func (Admin) principal()          {}

func (d Doctor) UserID() string    { return d.ID }
func (d Doctor) Role() domain.Role { return domain.DOCTOR }
func (Doctor) principal()          {}

func (p Patient) UserID() string    { return p.ID }
func (p Patient) Role() domain.Role { return domain.PATIENT }
func (Patient) principal()          {}

// FromUser maps a stored account to its principal.
func FromUser(u *domain.User) (Principal, error) {
	switch u.Role {
	case domain.ADMIN:
		return Admin{ID: u.ID}, nil
	case domain.DOCTOR:
		return Doctor{ID: u.ID, Approved: u.ApprovedByAdmin}, nil
	case domain.PATIENT:
		return Patient{ID: u.ID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, u.Role)
	}
}

// ListKind selects which records a listing returns.
type ListKind int

const (
	ListAll ListKind = iota
	ListByPatient
	ListByDoctor
)

// Listing is the store query a principal's "my predictions" view maps to.
type Listing struct {
	Kind ListKind
	ID   string
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrForbidden, fmt.Sprintf(format, args...))
}

func unknown(p Principal) error {
	return forbidden("unknown principal %T", p)
}

// AuthorizeCreate allows a patient to create records for themselves only.
func AuthorizeCreate(p Principal, patientID string) error {
	switch v := p.(type) {
	case Patient:
		if v.ID != patientID {
			return forbidden("patients can only upload their own scans")
		}
		return nil
	case Doctor:
		return forbidden("doctors cannot create predictions on behalf of patients")
	case Admin:
		return forbidden("only patients can upload scans")
	default:
		return unknown(p)
	}
}

// ListScope returns the records the principal's own listing covers.
func ListScope(p Principal) (Listing, error) {
	switch v := p.(type) {
	case Patient:
		return Listing{Kind: ListByPatient, ID: v.ID}, nil
	case Doctor:
		if !v.Approved {
			return Listing{}, forbidden("doctor account is not approved")
		}
		return Listing{Kind: ListByDoctor, ID: v.ID}, nil
	case Admin:
		return Listing{Kind: ListAll}, nil
	default:
		return Listing{}, unknown(p)
	}
}

// AuthorizeQueue allows approved doctors and admins to see unassigned records.
func AuthorizeQueue(p Principal) error {
	switch v := p.(type) {
	case Patient:
		return forbidden("patients cannot view the review queue")
	case Doctor:
		if !v.Approved {
			return forbidden("doctor account is not approved")
		}
		return nil
	case Admin:
		return nil
	default:
		return unknown(p)
	}
}

// AuthorizeView checks read access to a single record.
func AuthorizeView(p Principal, rec *domain.PredictionRecord) error {
	switch v := p.(type) {
	case Patient:
		if rec.PatientID != v.ID {
			return forbidden("record belongs to another patient")
		}
		return nil
	case Doctor:
		return doctorMayHandle(v, rec)
	case Admin:
		return nil
	default:
		return unknown(p)
	}
}

// AuthorizeReview checks whether the principal may move a record through review.
func AuthorizeReview(p Principal, rec *domain.PredictionRecord) error {
	switch v := p.(type) {
	case Patient:
		return forbidden("patients cannot review predictions")
	case Doctor:
		return doctorMayHandle(v, rec)
	case Admin:
		return nil
	default:
		return unknown(p)
	}
}

// AuthorizeAssign checks whether the principal may set the reviewing doctor.
// Doctors may only claim an unassigned record for themselves.
func AuthorizeAssign(p Principal, rec *domain.PredictionRecord, doctorID string) error {
	switch v := p.(type) {
	case Patient:
		return forbidden("patients cannot assign doctors")
	case Doctor:
		if !v.Approved {
			return forbidden("doctor account is not approved")
		}
		if doctorID != v.ID {
			return forbidden("doctors can only assign records to themselves")
		}
		if rec.IsAssigned() && !rec.AssignedTo(v.ID) {
			return forbidden("record is assigned to another doctor")
		}
		return nil
	case Admin:
		return nil
	default:
		return unknown(p)
	}
}

// RequireAdmin allows account administration to admins only.
func RequireAdmin(p Principal) error {
	switch p.(type) {
	case Admin:
		return nil
	case Doctor, Patient:
		return forbidden("admin access required")
	default:
		return unknown(p)
	}
}

// StatsScope returns the aggregate a principal's statistics cover.
func StatsScope(p Principal) (domain.StatsScope, error) {
	switch v := p.(type) {
	case Patient:
		return domain.StatsScope{PatientID: v.ID}, nil
	case Doctor:
		return domain.StatsScope{DoctorID: v.ID}, nil
	case Admin:
		return domain.StatsScope{}, nil
	default:
		return domain.StatsScope{}, unknown(p)
	}
}

func doctorMayHandle(d Doctor, rec *domain.PredictionRecord) error {
	if !d.Approved {
		return forbidden("doctor account is not approved")
	}
	if rec.IsAssigned() && !rec.AssignedTo(d.ID) {
		return forbidden("record is assigned to another doctor")
	}
	return nil
}
