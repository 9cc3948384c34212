// Package webhook は決済プロセッサーからのWebhookの検証と処理を行う。
// 署名と鮮度を検証したイベントのみをイベント種別ごとのハンドラーに振り分ける。
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance は署名タイムスタンプと現在時刻の許容差。
const DefaultTolerance = 300 * time.Second

var (
	// ErrInvalidSignature は署名ヘッダーの欠落・不一致・期限切れを示す。
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload は署名は正しいがボディがイベントとして解釈できないことを示す。
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Verify は既定の許容差で署名を検証し、イベントを解析する。
func Verify(rawBody []byte, signatureHeader, secret string, now time.Time) (*Event, error) {
	return VerifyWithTolerance(rawBody, signatureHeader, secret, now, DefaultTolerance)
}

// VerifyWithTolerance は"t=<unix>,v1=<hex>"形式のヘッダーを検証する。
// 署名対象は"{t}.{rawBody}"のHMAC-SHA256で、v1が複数ある場合はいずれかが一致すればよい。
// 署名と鮮度の両方が通った後でのみボディを解析する。
func VerifyWithTolerance(rawBody []byte, signatureHeader, secret string, now time.Time, tolerance time.Duration) (*Event, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}

	ts, signatures, err := parseHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	expected := computeMAC(ts, rawBody, secret)
	matched := false
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		// 一致しても早期終了せず全件比較する
		if hmac.Equal(got, expected) {
			matched = true
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	event, err := parseEvent(rawBody)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// parseHeader はタイムスタンプとv1署名の一覧を取り出す。
func parseHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}

	var (
		ts         int64
		haveTS     bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts, haveTS = n, true
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if !haveTS {
		return 0, nil, fmt.Errorf("%w: missing timestamp", ErrInvalidSignature)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: missing v1 signature", ErrInvalidSignature)
	}
	return ts, signatures, nil
}

func computeMAC(ts int64, body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeader は指定時刻の署名ヘッダーを生成する。送信側の実装やテストで使用する。
func SignatureHeader(body []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeMAC(ts, body, secret)))
}

func parseEvent(rawBody []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedPayload)
	}
	ev.Raw = append(json.RawMessage(nil), rawBody...)
	return &ev, nil
}
