package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Users

func (s *GormStorage) CreateUser(ctx context.Context, u User) error {
	err := s.db.WithContext(ctx).Create(&u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStorage) UpdateUser(ctx context.Context, u User) error {
	return s.db.WithContext(ctx).Save(&u).Error
}

func (s *GormStorage) GetUser(ctx context.Context, id string) (*User, error) {
	return first[User](s.db.WithContext(ctx), "id = ?", id)
}

func (s *GormStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return first[User](s.db.WithContext(ctx), "username = ?", username)
}

func (s *GormStorage) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).Order("username").Find(&users).Error
	return users, err
}

// Tokens

func (s *GormStorage) CreateToken(ctx context.Context, t Token) error {
	return s.db.WithContext(ctx).Create(&t).Error
}

func (s *GormStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	return first[Token](s.db.WithContext(ctx), "token_hash = ?", hash)
}

func (s *GormStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Token{}).Where("id = ?", id).Update("last_used_at", time.Now().UTC()).Error
}

func (s *GormStorage) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at < ?", before).Delete(&Token{})
	return res.RowsAffected, res.Error
}

// Casbin

func (s *GormStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	var rules []CasbinRule
	err := s.db.WithContext(ctx).Order("id").Find(&rules).Error
	return rules, err
}

func (s *GormStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Create(&rule).Error
}

func (s *GormStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).
		Where("ptype = ? AND v0 = ? AND v1 = ? AND v2 = ? AND v3 = ? AND v4 = ? AND v5 = ?",
			rule.PType, rule.V0, rule.V1, rule.V2, rule.V3, rule.V4, rule.V5).
		Delete(&CasbinRule{}).Error
}
