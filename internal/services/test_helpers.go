package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"

	"github.com/BradenHooton/loginguard/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

// MockRiskEvaluator implements RiskEvaluator for testing
type MockRiskEvaluator struct {
	EvaluateFunc func(ctx context.Context, lc models.LoginContext) (*models.RiskDecision, error)
}

func (m *MockRiskEvaluator) Evaluate(ctx context.Context, lc models.LoginContext) (*models.RiskDecision, error) {
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, lc)
	}
	return &models.RiskDecision{Outcome: models.RiskAllow}, nil
}

// MockGeoResolver implements geo.Resolver for testing
type MockGeoResolver struct {
	ResolveFunc func(ctx context.Context, addr string) (string, error)
}

func (m *MockGeoResolver) Resolve(ctx context.Context, addr string) (string, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, addr)
	}
	return "", models.ErrGeoUnresolved
}

// RecordingPublisher implements EventPublisher and keeps every event
type RecordingPublisher struct {
	mu     sync.Mutex
	Err    error
	events []models.LoginRiskEvent
}

func (p *RecordingPublisher) PublishLoginRisk(ctx context.Context, event models.LoginRiskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.Err
}

// Events returns the published events of eventType, or all when eventType is empty
func (p *RecordingPublisher) Events(eventType string) []models.LoginRiskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []models.LoginRiskEvent
	for _, e := range p.events {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

// MemoryTrustStore implements TrustedLocationRepository in memory
type MemoryTrustStore struct {
	mu      sync.Mutex
	trusted map[string]time.Time
	Err     error
}

func NewMemoryTrustStore() *MemoryTrustStore {
	return &MemoryTrustStore{trusted: make(map[string]time.Time)}
}

func trustKey(userID, countryCode string) string {
	return userID + "|" + strings.ToUpper(countryCode)
}

func (s *MemoryTrustStore) IsTrusted(ctx context.Context, userID, countryCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	_, ok := s.trusted[trustKey(userID, countryCode)]
	return ok, nil
}

func (s *MemoryTrustStore) Trust(ctx context.Context, userID, countryCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trustLocked(userID, countryCode, time.Now()), nil
}

func (s *MemoryTrustStore) trustLocked(userID, countryCode string, at time.Time) bool {
	key := trustKey(userID, countryCode)
	if _, ok := s.trusted[key]; ok {
		return false
	}
	s.trusted[key] = at
	return true
}

// Len returns the number of trusted pairs
func (s *MemoryTrustStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trusted)
}

// MemoryEnrollmentTokenStore implements EnrollmentTokenRepository in memory.
// Redeem consumes the token and trusts its location under one lock, the way
// the Postgres repository does it in one statement.
type MemoryEnrollmentTokenStore struct {
	mu     sync.Mutex
	trust  *MemoryTrustStore
	tokens map[string]*models.EnrollmentToken // by hash
}

func NewMemoryEnrollmentTokenStore(trust *MemoryTrustStore) *MemoryEnrollmentTokenStore {
	return &MemoryEnrollmentTokenStore{
		trust:  trust,
		tokens: make(map[string]*models.EnrollmentToken),
	}
}

func (s *MemoryEnrollmentTokenStore) Upsert(ctx context.Context, userID, countryCode, tokenHash string, expiresAt time.Time) (*models.EnrollmentToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, t := range s.tokens {
		if t.UserID == userID && t.CountryCode == countryCode && !t.IsConsumed() {
			delete(s.tokens, hash)
			t.TokenHash = tokenHash
			t.ExpiresAt = expiresAt
			s.tokens[tokenHash] = t
			out := *t
			return &out, nil
		}
	}

	t := &models.EnrollmentToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenHash:   tokenHash,
		CountryCode: countryCode,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	s.tokens[tokenHash] = t
	out := *t
	return &out, nil
}

func (s *MemoryEnrollmentTokenStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EnrollmentToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (s *MemoryEnrollmentTokenStore) Redeem(ctx context.Context, tokenHash string, now time.Time) (*models.TrustedLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenHash]
	if !ok || t.IsConsumed() || t.IsExpiredAt(now) {
		return nil, models.ErrNotFound
	}
	consumedAt := now
	t.ConsumedAt = &consumedAt

	s.trust.mu.Lock()
	s.trust.trustLocked(t.UserID, t.CountryCode, now)
	s.trust.mu.Unlock()

	return &models.TrustedLocation{UserID: t.UserID, CountryCode: t.CountryCode, CreatedAt: now}, nil
}

func (s *MemoryEnrollmentTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

// Pending returns the unconsumed tokens for a user and country
func (s *MemoryEnrollmentTokenStore) Pending(userID, countryCode string) []models.EnrollmentToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.EnrollmentToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.CountryCode == countryCode && !t.IsConsumed() {
			out = append(out, *t)
		}
	}
	return out
}

// MemoryDeviceStore implements DeviceRecordRepository in memory
type MemoryDeviceStore struct {
	mu      sync.Mutex
	records map[string]models.DeviceRecord
}

func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{records: make(map[string]models.DeviceRecord)}
}

func (s *MemoryDeviceStore) GetByDescriptor(ctx context.Context, userID, descriptor string) (*models.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID+"|"+descriptor]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryDeviceStore) Upsert(ctx context.Context, rec *models.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID+"|"+rec.Descriptor] = *rec
	return nil
}

// NewTestUser builds a user with the given bcrypt hash
func NewTestUser(id, email, passwordHash string) *models.User {
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
}
