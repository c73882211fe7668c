package authorization

import (
	"strings"
	"sync"
	"time"

	"github.com/mojocn/base64Captcha"
)

// CaptchaChallenge is an issued captcha image, delivered as a data URL.
type CaptchaChallenge struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
	TTL         time.Duration
}

// CaptchaStore issues and verifies digit captchas backed by an in-memory
// answer store.
type CaptchaStore struct {
	mu      sync.Mutex
	captcha *base64Captcha.Captcha
	ttl     time.Duration
}

// NewCaptchaStore creates a captcha store whose answers expire after ttl.
func NewCaptchaStore(ttl time.Duration) *CaptchaStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	driver := base64Captcha.NewDriverDigit(60, 160, 5, 0.7, 80)
	store := base64Captcha.NewMemoryStore(2048, ttl)
	return &CaptchaStore{
		captcha: base64Captcha.NewCaptcha(driver, store),
		ttl:     ttl,
	}
}

// Issue generates a new challenge. A zero-value challenge is returned when
// generation fails; callers treat an empty ID as unavailable.
func (s *CaptchaStore) Issue() CaptchaChallenge {
	if s == nil {
		return CaptchaChallenge{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, image, _, err := s.captcha.Generate()
	if err != nil {
		return CaptchaChallenge{}
	}

	imageData := strings.TrimSpace(image)
	if imageData != "" && !strings.HasPrefix(imageData, "data:") {
		imageData = "data:image/png;base64," + imageData
	}

	return CaptchaChallenge{
		ID:          id,
		ImageBase64: imageData,
		ExpiresAt:   time.Now().Add(s.ttl),
		TTL:         s.ttl,
	}
}

// Verify consumes the challenge and reports whether answer matches.
func (s *CaptchaStore) Verify(id, answer string) bool {
	if s == nil {
		return true
	}

	id = strings.TrimSpace(id)
	answer = strings.TrimSpace(answer)
	if id == "" || answer == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captcha.Verify(id, answer, true)
}
