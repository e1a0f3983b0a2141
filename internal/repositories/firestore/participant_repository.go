package firestore

import (
	"context"
	"errors"

	domain "github.com/certified-builder/api/internal/domain"
	pfirestore "github.com/certified-builder/api/internal/platform/firestore"
	"github.com/certified-builder/api/internal/repositories"
)

// ParticipantRepository persists participants keyed by a hash of their normalised email.
type ParticipantRepository struct {
	docs *pfirestore.Collection[participantDocument]
}

var _ repositories.ParticipantRepository = (*ParticipantRepository)(nil)

// NewParticipantRepository constructs a Firestore-backed participant repository.
func NewParticipantRepository(provider *pfirestore.Provider) (*ParticipantRepository, error) {
	if provider == nil {
		return nil, errors.New("participant repository: firestore provider is required")
	}
	return &ParticipantRepository{
		docs: pfirestore.NewCollection[participantDocument](provider, participantsCollection),
	}, nil
}

func (r *ParticipantRepository) Create(ctx context.Context, participant domain.Participant) (domain.Participant, error) {
	participant.CreatedAt = participant.CreatedAt.UTC()
	doc := participantDocument{
		Email:     participant.Email,
		FirstName: participant.FirstName,
		LastName:  participant.LastName,
		Phone:     participant.Phone,
		CPF:       participant.CPF,
		City:      participant.City,
		CreatedAt: participant.CreatedAt,
	}
	if err := r.docs.Create(ctx, emailDocID(participant.Email), doc); err != nil {
		return domain.Participant{}, err
	}
	return participant, nil
}

func (r *ParticipantRepository) FindByEmail(ctx context.Context, email string) (domain.Participant, error) {
	doc, err := r.docs.Get(ctx, emailDocID(email))
	if err != nil {
		return domain.Participant{}, err
	}
	return domain.Participant{
		Email:     doc.Email,
		FirstName: doc.FirstName,
		LastName:  doc.LastName,
		Phone:     doc.Phone,
		CPF:       doc.CPF,
		City:      doc.City,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}
