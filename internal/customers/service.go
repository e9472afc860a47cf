package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgdb "github.com/angelmondragon/lealtad-backend/pkg/db"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/rotatingcode"
)

type customerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

type tierLookup interface {
	FindByName(ctx context.Context, name string) (*models.Tier, error)
}

// Service covers customer intake and the code window shown on the customer's device.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*CustomerDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*CustomerDTO, error)
	CurrentCodes(ctx context.Context, id uuid.UUID) (*CodeWindowDTO, error)
}

type ServiceParams struct {
	Repo      customerRepository
	Tiers     tierLookup
	Generator *rotatingcode.Generator
	EntryTier string
	Clock     func() time.Time
}

type service struct {
	repo      customerRepository
	tiers     tierLookup
	gen       *rotatingcode.Generator
	entryTier string
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("customer repository required")
	}
	if params.Tiers == nil {
		return nil, fmt.Errorf("tier lookup required")
	}
	if params.Generator == nil {
		return nil, fmt.Errorf("code generator required")
	}
	if strings.TrimSpace(params.EntryTier) == "" {
		return nil, fmt.Errorf("entry tier required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:      params.Repo,
		tiers:     params.Tiers,
		gen:       params.Generator,
		entryTier: params.EntryTier,
		now:       clock,
	}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*CustomerDTO, error) {
	phone := normalizePhone(input.Phone)
	if phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone must be 8 to 15 digits, optionally prefixed with +")
	}

	secret := strings.TrimSpace(input.Secret)
	if secret == "" {
		generated, err := rotatingcode.NewSecret()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate customer secret")
		}
		secret = generated
	} else {
		// Stored canonically so the unique index sees spelling variants of
		// one key as the same secret.
		canonical, err := rotatingcode.CanonicalSecret(secret)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer secret")
		}
		secret = canonical
	}

	tierName := strings.TrimSpace(input.EntryTier)
	if tierName == "" {
		tierName = s.entryTier
	}
	tier, err := s.tiers.FindByName(ctx, tierName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown entry tier %q", tierName))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entry tier")
	}

	customer := &models.Customer{
		Phone:  phone,
		Secret: secret,
		State:  enums.CustomerStatePreRegistered,
		TierID: tier.ID,
	}
	if input.ID != nil {
		customer.ID = *input.ID
	}
	if err := s.repo.Create(ctx, customer); err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "customer already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create customer")
	}
	return FromModel(customer), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*CustomerDTO, error) {
	customer, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return FromModel(customer), nil
}

func (s *service) CurrentCodes(ctx context.Context, id uuid.UUID) (*CodeWindowDTO, error) {
	customer, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !customer.State.Indexable() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer is inactive")
	}
	window, err := s.gen.Window(customer.Secret, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute code window")
	}
	return codeWindowFrom(window), nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	return customer, nil
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return ""
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 8 || len(digits) > 15 {
		return ""
	}
	return b.String()
}
