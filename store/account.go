package store

import (
	"errors"
	"strconv"

	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/zcash"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const activeAccountProperty = "account"

// PutAccount stores a new account and returns its id. Accounts are unique
// by Sapling viewing key.
func (s *Storage) PutAccount(account *model.Account) (uint32, error) {
	var count int64
	if res := s.db.Model(&model.Account{}).Where("fvk = ?", account.Fvk).Count(&count); res.Error != nil {
		return 0, res.Error
	}
	if count > 0 {
		return 0, ErrDuplicateAccount
	}
	if res := s.db.Create(account); res.Error != nil {
		return 0, res.Error
	}
	s.logger.Info("new account", zap.Uint32("account", account.ID), zap.String("name", account.Name))
	return account.ID, nil
}

func (s *Storage) GetAccount(id uint32) (*model.Account, error) {
	account := &model.Account{}
	if res := s.db.First(account, "id = ?", id); res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, res.Error
	}
	return account, nil
}

func (s *Storage) GetAccounts() ([]model.Account, error) {
	var accounts []model.Account
	if res := s.db.Order("id").Find(&accounts); res.Error != nil {
		return nil, res.Error
	}
	return accounts, nil
}

// DeleteAccount removes an account with its keys, notes and history.
func (s *Storage) DeleteAccount(id uint32) error {
	return s.Transaction(func(tx *Storage) error {
		res := tx.db.Delete(&model.Account{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		for _, w := range []string{"sapling_witnesses", "orchard_witnesses"} {
			err := tx.db.Exec("DELETE FROM "+w+" WHERE note IN (SELECT id FROM received_notes WHERE account = ?)", id).Error
			if err != nil {
				return err
			}
		}
		for _, m := range []interface{}{&model.ReceivedNote{}, &model.Transaction{}, &model.Message{}} {
			if err := tx.db.Where("account = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		for _, m := range []interface{}{&model.TAddr{}, &model.OrchardAddr{}, &model.UASetting{}} {
			if err := tx.db.Where("account = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PutTransparentKey attaches a transparent key and address to an account.
func (s *Storage) PutTransparentKey(account uint32, sk []byte, address string) error {
	return s.db.Save(&model.TAddr{Account: account, Sk: sk, Address: address}).Error
}

// GetTransparentKey returns nil when the account has no transparent key.
func (s *Storage) GetTransparentKey(account uint32) (*model.TAddr, error) {
	var taddrs []model.TAddr
	if res := s.db.Where("account = ?", account).Limit(1).Find(&taddrs); res.Error != nil {
		return nil, res.Error
	}
	if len(taddrs) == 0 {
		return nil, nil
	}
	return &taddrs[0], nil
}

// PutOrchardKey attaches an Orchard key to an account. sk is nil for watch
// only accounts.
func (s *Storage) PutOrchardKey(account uint32, sk, fvk []byte) error {
	return s.db.Save(&model.OrchardAddr{Account: account, Sk: sk, Fvk: fvk}).Error
}

// GetOrchardKey returns nil when the account has no Orchard key.
func (s *Storage) GetOrchardKey(account uint32) (*model.OrchardAddr, error) {
	var keys []model.OrchardAddr
	if res := s.db.Where("account = ?", account).Limit(1).Find(&keys); res.Error != nil {
		return nil, res.Error
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return &keys[0], nil
}

// GetViewingKeys returns the viewing keys of pool indexed by account.
func (s *Storage) GetViewingKeys(pool zcash.Pool) (map[uint32][]byte, error) {
	keys := map[uint32][]byte{}
	switch pool {
	case zcash.Sapling:
		accounts, err := s.GetAccounts()
		if err != nil {
			return nil, err
		}
		for _, a := range accounts {
			keys[a.ID] = a.Fvk
		}
	case zcash.Orchard:
		var addrs []model.OrchardAddr
		if res := s.db.Order("account").Find(&addrs); res.Error != nil {
			return nil, res.Error
		}
		for _, a := range addrs {
			keys[a.Account] = a.Fvk
		}
	}
	return keys, nil
}

// GetUASetting returns the receivers of the unified address of account.
// Accounts without a setting use their Sapling and Orchard receivers.
func (s *Storage) GetUASetting(account uint32) (*model.UASetting, error) {
	var settings []model.UASetting
	if res := s.db.Where("account = ?", account).Limit(1).Find(&settings); res.Error != nil {
		return nil, res.Error
	}
	if len(settings) == 0 {
		return &model.UASetting{Account: account, Sapling: true, Orchard: true}, nil
	}
	return &settings[0], nil
}

func (s *Storage) PutUASetting(setting *model.UASetting) error {
	return s.db.Save(setting).Error
}

// GetActiveAccount returns the id of the account selected by the host.
func (s *Storage) GetActiveAccount() (uint32, error) {
	v, err := s.GetProperty(activeAccountProperty)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, ErrNoActiveAccount
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

func (s *Storage) SetActiveAccount(id uint32) error {
	if _, err := s.GetAccount(id); err != nil {
		return err
	}
	return s.SetProperty(activeAccountProperty, strconv.FormatUint(uint64(id), 10))
}
