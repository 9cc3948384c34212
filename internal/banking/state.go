package banking

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxLinkSessionTTL は連携セッションの最大有効期間。
const MaxLinkSessionTTL = time.Hour

// LinkState はOAuth stateに埋め込む相関情報。
// stateはブラウザ履歴やRefererから観測され得るため、ここに含まれるユーザーIDは
// 相関のヒントとしてのみ扱い、認可の根拠にはしない。
type LinkState struct {
	UserID   string `json:"uid"`
	Provider string `json:"prv"`
	Country  string `json:"cc"`
	IssuedAt int64  `json:"iat"`
	Nonce    string `json:"n"`
}

// IssuedTime は発行時刻を返す。
func (s *LinkState) IssuedTime() time.Time {
	return time.Unix(s.IssuedAt, 0)
}

// StateSigner はHMAC-SHA256で署名されたOAuth stateを発行・検証する。
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner はStateSignerを生成する。
// ttlが0以下またはMaxLinkSessionTTLを超える場合はMaxLinkSessionTTLに丸める。
func NewStateSigner(secret []byte, ttl time.Duration) *StateSigner {
	if ttl <= 0 || ttl > MaxLinkSessionTTL {
		ttl = MaxLinkSessionTTL
	}
	return &StateSigner{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL はstateの有効期間を返す。
func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

// Issue はユーザー・プロバイダー・国を束縛したstateを発行し、有効期限とともに返す。
func (s *StateSigner) Issue(userID, provider, country string) (string, time.Time, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate state nonce: %w", err)
	}

	issuedAt := s.now()
	payload, err := json.Marshal(LinkState{
		UserID:   userID,
		Provider: provider,
		Country:  country,
		IssuedAt: issuedAt.Unix(),
		Nonce:    hex.EncodeToString(nonce),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to encode state: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(payload)
	token := body + "." + base64.RawURLEncoding.EncodeToString(s.sign(body))

	return token, issuedAt.Add(s.ttl), nil
}

// Parse はstateの署名と有効期限を検証し、埋め込まれた相関情報を返す。
func (s *StateSigner) Parse(token string) (*LinkState, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return nil, ErrInvalidState
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, ErrInvalidState
	}
	if !hmac.Equal(got, s.sign(body)) {
		return nil, ErrInvalidState
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrInvalidState
	}

	var st LinkState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, ErrInvalidState
	}
	if st.UserID == "" || st.Provider == "" {
		return nil, ErrInvalidState
	}

	age := s.now().Sub(st.IssuedTime())
	if age < -time.Minute || age > s.ttl {
		return nil, ErrInvalidState
	}

	return &st, nil
}

func (s *StateSigner) sign(body string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

// HashState はstateを永続化用のキーに変換する。生のstateはDBに保存しない。
func HashState(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
