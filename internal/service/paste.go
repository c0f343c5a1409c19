package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/clipzy/clipzy-server/internal/errors"
	"github.com/clipzy/clipzy-server/internal/kv"
	"github.com/clipzy/clipzy-server/internal/policy"
	"github.com/clipzy/clipzy-server/internal/repository"
	"github.com/clipzy/clipzy-server/internal/util"
)

const maxIDAttempts = 10

// StoredPaste describes a paste that was just written.
type StoredPaste struct {
	ID  string
	TTL time.Duration
}

type PasteService struct {
	repo  repository.PasteRepository
	newID func() (string, error)
}

func NewPasteService(repo repository.PasteRepository) *PasteService {
	return &PasteService{
		repo:  repo,
		newID: util.NewPasteID,
	}
}

// Store validates ciphertext against the size policy for the requested ttl
// and writes it under a fresh id. Nothing is written when validation fails.
func (s *PasteService) Store(ctx context.Context, ciphertext string, ttlReq policy.TTLRequest) (*StoredPaste, error) {
	if ciphertext == "" {
		return nil, apperrors.MissingRequired("ciphertext")
	}

	ttl := policy.Resolve(ttlReq)
	size := len(ciphertext)
	if ok, limit := policy.Check(size, ttl); !ok {
		return nil, apperrors.PayloadTooLarge(size, limit)
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, apperrors.Internal("Failed to generate id").WithCause(err)
		}

		created, err := s.repo.Create(ctx, id, ciphertext, ttl)
		if err != nil {
			return nil, storageError(err)
		}
		if !created {
			log.Warn().Str("pasteId", id).Msg("paste id collision, regenerating")
			continue
		}

		log.Info().
			Str("pasteId", id).
			Int("size", size).
			Dur("ttl", ttl).
			Msg("paste stored")
		return &StoredPaste{ID: id, TTL: ttl}, nil
	}

	return nil, apperrors.Internal("Failed to allocate a unique id")
}

func (s *PasteService) Retrieve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", apperrors.MissingRequired("id")
	}
	// Ids outside the paste alphabet were never issued.
	if !util.IsValidPasteID(id) {
		return "", apperrors.NotFound("Paste")
	}

	ciphertext, err := s.repo.Get(ctx, id)
	if errors.Is(err, kv.ErrNotFound) {
		return "", apperrors.NotFound("Paste")
	}
	if err != nil {
		if errors.Is(err, kv.ErrCorrupt) {
			log.Error().Err(err).Str("pasteId", id).Msg("stored paste is malformed")
		}
		return "", storageError(err)
	}
	return ciphertext, nil
}

// Delete removes a paste. Failures are logged and otherwise ignored.
func (s *PasteService) Delete(ctx context.Context, id string) {
	if !util.IsValidPasteID(id) {
		return
	}
	if _, err := s.repo.Delete(ctx, id); err != nil {
		log.Warn().Err(err).Str("pasteId", id).Msg("failed to delete paste")
	}
}

// Reveal decrypts a stored paste with a key supplied by the caller. It backs
// the raw endpoint for clients that cannot run the decryption themselves.
func (s *PasteService) Reveal(ctx context.Context, id, key string) (string, error) {
	if key == "" {
		return "", apperrors.MissingRequired("key")
	}
	if _, err := util.DecodeKey(key); err != nil {
		return "", apperrors.Forbidden("Decryption failed").WithCause(err)
	}

	stored, err := s.Retrieve(ctx, id)
	if err != nil {
		return "", err
	}

	ciphertext, err := util.Decompress(stored)
	if err != nil {
		log.Error().Err(err).Str("pasteId", id).Msg("stored paste does not decompress")
		return "", apperrors.CorruptData(err)
	}

	plaintext, err := util.Decrypt(key, ciphertext)
	if err != nil {
		return "", apperrors.Forbidden("Decryption failed").WithCause(err)
	}
	return plaintext, nil
}
