// Package intake accepts analysis submissions for media that is already
// stored, records them and hands them to the job queue.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dharsanguruparan/racketdrop/internal/model"
	"github.com/dharsanguruparan/racketdrop/internal/queue"
)

var (
	// ErrInvalidSubmission wraps every metadata validation failure.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrMediaNotFound is returned when the media reference does not resolve.
	ErrMediaNotFound = errors.New("media not found")
	// ErrEnqueue means the item was recorded but no job was published. The
	// item stays submitted.
	ErrEnqueue = errors.New("enqueue failed")
)

// Submission is the metadata supplied with a media reference.
type Submission struct {
	MediaRef          string                  `json:"mediaReference" validate:"required,max=1024"`
	Category          string                  `json:"category" validate:"required,max=64"`
	SubClassification model.SubClassification `json:"subClassification" validate:"required,oneof=forehand backhand"`
	Orientation       model.Orientation       `json:"orientation" validate:"required,oneof=right left"`
	ViewAngle         model.ViewAngle         `json:"viewAngle,omitempty" validate:"omitempty,oneof=side front"`
}

// Receipt identifies the created item and the state intake left it in.
type Receipt struct {
	ItemID string          `json:"itemId"`
	State  model.ItemState `json:"state"`
}

// ValidationError lists the offending fields by their JSON names.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return fmt.Sprintf("%s: %s", ErrInvalidSubmission, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSubmission }

// ItemStore is the subset of the repository intake writes to.
type ItemStore interface {
	CreateItem(ctx context.Context, item *model.Item) error
	MarkProcessing(ctx context.Context, id string) error
}

// MediaChecker confirms a media reference exists without reading it.
type MediaChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// Option configures a Service.
type Option func(*Service)

// WithMediaChecker makes Submit reject references the checker cannot find.
func WithMediaChecker(mc MediaChecker) Option {
	return func(s *Service) { s.media = mc }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service runs the intake sequence: create, enqueue, mark processing.
type Service struct {
	items     ItemStore
	producer  queue.Producer
	media     MediaChecker
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService builds an intake Service.
func NewService(items ItemStore, producer queue.Producer, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	s := &Service{
		items:     items,
		producer:  producer,
		logger:    slog.Default(),
		validator: v,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks submission metadata without side effects.
func (s *Service) Validate(sub Submission) error {
	if err := s.validator.Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Submit records a new item for sub and publishes exactly one analysis job
// for it. Every call creates a new item, even for a media reference seen
// before.
//
// If publishing fails the item remains submitted and the returned receipt
// still carries its id.
func (s *Service) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	sub.MediaRef = strings.TrimSpace(sub.MediaRef)
	sub.Category = strings.TrimSpace(sub.Category)
	if err := s.Validate(sub); err != nil {
		return Receipt{}, err
	}

	if s.media != nil {
		ok, err := s.media.Exists(ctx, sub.MediaRef)
		if err != nil {
			return Receipt{}, fmt.Errorf("check media: %w", err)
		}
		if !ok {
			return Receipt{}, fmt.Errorf("%w: %s", ErrMediaNotFound, sub.MediaRef)
		}
	}

	item := &model.Item{
		ID:                uuid.NewString(),
		Category:          sub.Category,
		SubClassification: sub.SubClassification,
		Orientation:       sub.Orientation,
		ViewAngle:         sub.ViewAngle,
		MediaRef:          sub.MediaRef,
	}
	if err := s.items.CreateItem(ctx, item); err != nil {
		return Receipt{}, fmt.Errorf("create item: %w", err)
	}

	receipt := Receipt{ItemID: item.ID, State: model.StateSubmitted}
	if err := s.producer.Enqueue(ctx, queue.Job{ItemID: item.ID}); err != nil {
		s.logger.Warn("item left submitted, enqueue failed",
			"item_id", item.ID,
			"error", err,
		)
		return receipt, fmt.Errorf("%w: item %s: %v", ErrEnqueue, item.ID, err)
	}

	if err := s.items.MarkProcessing(ctx, item.ID); err != nil {
		s.logger.Error("job published but item not marked processing",
			"item_id", item.ID,
			"error", err,
		)
		return receipt, fmt.Errorf("mark processing: %w", err)
	}

	s.logger.Info("item submitted", "item_id", item.ID, "media_ref", item.MediaRef)
	receipt.State = model.StateProcessing
	return receipt, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
