package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Identity описывает пользователя, подтверждённого внешним провайдером.
type Identity struct {
	UID   string
	Email string
	Name  string
}

// Verifier проверяет токен доступа и возвращает личность пользователя.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type staticEntry struct {
	token    string
	identity Identity
}

// StaticVerifier сверяет токены с заранее заданной таблицей.
// Заменяет SDK провайдера входа в локальных окружениях и тестах.
type StaticVerifier struct {
	entries []staticEntry
}

// NewStaticVerifier создаёт verifier по таблице token -> identity.
func NewStaticVerifier(tokens map[string]Identity) *StaticVerifier {
	v := &StaticVerifier{entries: make([]staticEntry, 0, len(tokens))}
	for token, identity := range tokens {
		if token == "" || identity.UID == "" {
			continue
		}
		v.entries = append(v.entries, staticEntry{token: token, identity: identity})
	}
	return v
}

// ParseStaticTokens разбирает строку вида "token=uid:email:name,token2=uid2:email2".
// Email и имя необязательны при разборе; Gate не пропустит токен без email.
func ParseStaticTokens(raw string) (*StaticVerifier, error) {
	tokens := make(map[string]Identity)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		token, rest, ok := strings.Cut(item, "=")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return nil, fmt.Errorf("auth token entry %q: expected token=uid[:email[:name]]", item)
		}
		parts := strings.SplitN(rest, ":", 3)
		identity := Identity{UID: strings.TrimSpace(parts[0])}
		if identity.UID == "" {
			return nil, fmt.Errorf("auth token entry %q: uid is required", item)
		}
		if len(parts) > 1 {
			identity.Email = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			identity.Name = strings.TrimSpace(parts[2])
		}
		if _, dup := tokens[token]; dup {
			return nil, fmt.Errorf("auth token entry %q: duplicate token", item)
		}
		tokens[token] = identity
	}
	return NewStaticVerifier(tokens), nil
}

// Verify ищет токен в таблице, сравнивая за постоянное время.
func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, domain.ErrUnauthenticated
	}
	for _, entry := range v.entries {
		if subtle.ConstantTimeCompare([]byte(entry.token), []byte(token)) == 1 {
			return entry.identity, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: unknown token", domain.ErrUnauthenticated)
}

// Len возвращает количество известных токенов.
func (v *StaticVerifier) Len() int {
	return len(v.entries)
}

// Gate проверяет, что пользователь вошёл. Транспорт вызывает его перед оформлением заказа.
// При успешном входе профиль пользователя записывается в UserRepository.
type Gate struct {
	verifier Verifier
	users    domain.UserRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewGate создаёт gate. users может быть nil: тогда профили не сохраняются.
func NewGate(verifier Verifier, users domain.UserRepository, logger *log.Entry) *Gate {
	if logger == nil {
		logger = log.New().WithField("component", "auth")
	}
	return &Gate{verifier: verifier, users: users, logger: logger, now: time.Now}
}

// Authenticate проверяет значение заголовка Authorization ("Bearer <token>" или сам токен).
// Заказ нельзя оформить без email, поэтому личность без email отклоняется.
// Ошибки оборачивают domain.ErrUnauthenticated.
func (g *Gate) Authenticate(ctx context.Context, authorization string) (Identity, error) {
	token := BearerToken(authorization)
	if token == "" {
		return Identity{}, domain.ErrUnauthenticated
	}
	identity, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	identity.Email = strings.TrimSpace(identity.Email)
	if identity.Email == "" {
		g.logger.WithField("uid", identity.UID).Warn("sign-in rejected: account has no email")
		return Identity{}, fmt.Errorf("%w: account has no email", domain.ErrUnauthenticated)
	}

	if g.users != nil {
		now := g.now().UTC()
		profile := domain.UserProfile{
			UID:         identity.UID,
			Email:       identity.Email,
			DisplayName: identity.Name,
			LastLoginAt: now,
			CreatedAt:   now,
		}
		if err := g.users.Upsert(profile); err != nil {
			g.logger.WithError(err).WithField("uid", identity.UID).Warn("failed to record user profile")
		}
	}
	return identity, nil
}

// BearerToken извлекает токен из значения заголовка Authorization.
func BearerToken(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if len(authorization) > 7 && strings.EqualFold(authorization[:7], "bearer ") {
		return strings.TrimSpace(authorization[7:])
	}
	return authorization
}

type identityKey struct{}

// ContextWithIdentity кладёт личность пользователя в context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext достаёт личность пользователя из context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}
