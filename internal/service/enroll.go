// Package service holds the reference server's business logic: owner
// enrollment and the server half of the secret-tag exchanges.
package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/atinyakov/tagkeeper/internal/certgen"
	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
)

const maxOwnerLength = 64

// OwnerRepository persists enrolled owners.
type OwnerRepository interface {
	OwnerExists(ctx context.Context, login string) (bool, error)
	CreateOwner(ctx context.Context, login string) error
}

// CertificateIssuer signs client certificates.
type CertificateIssuer interface {
	IssueClientCert(commonName string) (certPEM, keyPEM []byte, err error)
}

// EnrollmentService issues a client certificate to each new owner. The
// certificate's common name is the owner identity on every later call.
type EnrollmentService struct {
	repo OwnerRepository
	ca   CertificateIssuer
}

func NewEnrollmentService(repo OwnerRepository, ca CertificateIssuer) *EnrollmentService {
	return &EnrollmentService{repo: repo, ca: ca}
}

// Enroll creates owner and returns its certificate and key. An existing
// owner is errs.ErrDuplicateName.
func (s *EnrollmentService) Enroll(ctx context.Context, owner string) (models.EnrollResponse, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" || utf8.RuneCountInString(owner) > maxOwnerLength {
		return models.EnrollResponse{}, fmt.Errorf("%w: owner must be 1-%d characters", errs.ErrInvalidInput, maxOwnerLength)
	}
	exists, err := s.repo.OwnerExists(ctx, owner)
	if err != nil {
		return models.EnrollResponse{}, fmt.Errorf("check owner: %w", err)
	}
	if exists {
		return models.EnrollResponse{}, fmt.Errorf("%w: owner %q", errs.ErrDuplicateName, owner)
	}
	certPEM, keyPEM, err := s.ca.IssueClientCert(owner)
	if err != nil {
		return models.EnrollResponse{}, fmt.Errorf("issue certificate: %w", err)
	}
	if err := s.repo.CreateOwner(ctx, owner); err != nil {
		return models.EnrollResponse{}, fmt.Errorf("save owner: %w", err)
	}
	return models.EnrollResponse{Cert: string(certPEM), Key: string(keyPEM)}, nil
}

var _ CertificateIssuer = (*certgen.CA)(nil)
