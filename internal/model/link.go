package model

import "time"

// LinkSession は銀行連携のOAuthリダイレクトを開始ユーザーに対応付ける一時レコード。
// コールバックで一度だけ消費され、期限切れのものは何も起こさない。
type LinkSession struct {
	StateHash   string
	UserID      string
	Provider    string
	CountryCode string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired は指定時刻時点で期限切れかどうかを返す。
func (s *LinkSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
