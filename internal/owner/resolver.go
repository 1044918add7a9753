// Package owner resolves the owner that an ingestion commit is attached to
package owner

import (
	"context"
	"strings"

	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/store"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"
)

// Hints identify the owner of an upload
type Hints struct {
	OwnerID     string `json:"ownerIdHint,omitempty"`
	ExternalRef string `json:"externalRef,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// IsEmpty reports whether the hints carry no identifier
func (h Hints) IsEmpty() bool {
	return strings.TrimSpace(h.OwnerID) == "" && strings.TrimSpace(h.ExternalRef) == ""
}

// Resolver finds or creates owners
type Resolver struct {
	owners store.OwnerStore
	logger logger.Logger
}

// NewResolver creates a Resolver over an owner store
func NewResolver(owners store.OwnerStore, log logger.Logger) *Resolver {
	return &Resolver{
		owners: owners,
		logger: logger.OrGlobal(log).WithComponent("owner_resolver"),
	}
}

// Resolve looks the owner up by id, then by external ref, and finally creates it
// through the store's upsert so concurrent callers with one ref share one owner
func (r *Resolver) Resolve(ctx context.Context, hints Hints) (*models.Owner, error) {
	id := strings.TrimSpace(hints.OwnerID)
	ref := strings.TrimSpace(hints.ExternalRef)

	if id == "" && ref == "" {
		return nil, errors.MissingOwnerRefError()
	}

	if id != "" {
		o, err := r.owners.FindByID(ctx, id)
		switch {
		case err == nil:
			r.logger.WithField("owner_id", o.ID).Debug("Resolved owner by id")
			return o, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, errors.InternalError(errors.CodeStoreFailure, "owner lookup by id", err)
		}
		if ref == "" {
			return nil, errors.MissingOwnerRefError().
				WithContext("owner_id", id).
				WithSuggestion("the owner id was not found; provide an external reference to create the owner")
		}
	}

	o, err := r.owners.FindByExternalRef(ctx, ref)
	switch {
	case err == nil:
		r.logger.WithField("owner_id", o.ID).Debug("Resolved owner by external ref")
		return o, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, errors.InternalError(errors.CodeStoreFailure, "owner lookup by external ref", err)
	}

	o, err = r.owners.UpsertByExternalRef(ctx, &models.Owner{
		ExternalRef: ref,
		DisplayName: strings.TrimSpace(hints.DisplayName),
		Email:       strings.TrimSpace(hints.Email),
	})
	if err != nil {
		return nil, errors.InternalError(errors.CodeStoreFailure, "owner upsert", err)
	}

	r.logger.WithFields(logger.Fields{
		"owner_id":     o.ID,
		"external_ref": ref,
	}).Info("Owner resolved through upsert")

	return o, nil
}
