package database

import (
	"time"

	"github.com/giantswarm/tenant-oauth/storage"
)

// tokenRecordModel is the row form of a TokenRecord. Token columns hold
// ciphertext when a codec is configured.
type tokenRecordModel struct {
	PrincipalID        string `gorm:"primaryKey;size:255"`
	TenantID           string `gorm:"primaryKey;size:255;index:idx_token_tenant_created,priority:1"`
	AccessToken        string `gorm:"type:text"`
	RefreshToken       string `gorm:"type:text"`
	TokenType          string `gorm:"size:64"`
	Scope              string `gorm:"type:text"`
	ExpiresAt          *time.Time
	GoogleAccountEmail string `gorm:"size:320"`
	LastRefreshAt      *time.Time
	RefreshCount       int64
	CreatedAt          time.Time `gorm:"autoCreateTime:false;index:idx_token_tenant_created,priority:2"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false"`
}

func (tokenRecordModel) TableName() string {
	return "oauth_token_records"
}

type tenantConfigModel struct {
	TenantID              string    `gorm:"primaryKey;size:255"`
	EncryptedClientID     string    `gorm:"type:text"`
	EncryptedClientSecret string    `gorm:"type:text"`
	AdminEmail            string    `gorm:"size:320"`
	ProviderDomain        string    `gorm:"size:255"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime:false"`
}

func (tenantConfigModel) TableName() string {
	return "oauth_tenant_configs"
}

type membershipModel struct {
	PrincipalID  string `gorm:"primaryKey;size:255"`
	TenantID     string `gorm:"primaryKey;size:255;index:idx_member_tenant_email,priority:1"`
	Email        string `gorm:"size:320;index:idx_member_tenant_email,priority:2"`
	JoinedAt     time.Time
	LastActiveAt time.Time `gorm:"index"`
}

func (membershipModel) TableName() string {
	return "tenant_memberships"
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func toTokenModel(r *storage.TokenRecord) *tokenRecordModel {
	return &tokenRecordModel{
		PrincipalID:        r.PrincipalID,
		TenantID:           r.TenantID,
		AccessToken:        r.AccessToken,
		RefreshToken:       r.RefreshToken,
		TokenType:          r.TokenType,
		Scope:              r.Scope,
		ExpiresAt:          timePtr(r.ExpiresAt),
		GoogleAccountEmail: r.GoogleAccountEmail,
		LastRefreshAt:      timePtr(r.LastRefreshAt),
		RefreshCount:       r.RefreshCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (m *tokenRecordModel) record() *storage.TokenRecord {
	return &storage.TokenRecord{
		Key:                storage.Key{PrincipalID: m.PrincipalID, TenantID: m.TenantID},
		AccessToken:        m.AccessToken,
		RefreshToken:       m.RefreshToken,
		TokenType:          m.TokenType,
		Scope:              m.Scope,
		ExpiresAt:          timeVal(m.ExpiresAt),
		GoogleAccountEmail: m.GoogleAccountEmail,
		LastRefreshAt:      timeVal(m.LastRefreshAt),
		RefreshCount:       m.RefreshCount,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func (m *tenantConfigModel) config() *storage.TenantOAuthConfig {
	return &storage.TenantOAuthConfig{
		TenantID:              m.TenantID,
		EncryptedClientID:     m.EncryptedClientID,
		EncryptedClientSecret: m.EncryptedClientSecret,
		AdminEmail:            m.AdminEmail,
		ProviderDomain:        m.ProviderDomain,
		UpdatedAt:             m.UpdatedAt,
	}
}

func (m *membershipModel) membership() *storage.Membership {
	return &storage.Membership{
		PrincipalID:  m.PrincipalID,
		TenantID:     m.TenantID,
		Email:        m.Email,
		JoinedAt:     m.JoinedAt,
		LastActiveAt: m.LastActiveAt,
	}
}
