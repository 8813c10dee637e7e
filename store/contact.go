package store

import (
	"github.com/catalogfi/zwallet/model"
	"gorm.io/gorm/clause"
)

func (s *Storage) PutContact(contact *model.Contact) error {
	return s.db.Save(contact).Error
}

func (s *Storage) GetContacts() ([]model.Contact, error) {
	var contacts []model.Contact
	if res := s.db.Order("name").Find(&contacts); res.Error != nil {
		return nil, res.Error
	}
	return contacts, nil
}

func (s *Storage) DeleteContact(id uint) error {
	return s.db.Delete(&model.Contact{}, id).Error
}

// PutMessage stores a memo. A transaction yields at most one message per account.
func (s *Storage) PutMessage(msg *model.Message) error {
	if msg.Tx != 0 {
		var count int64
		if res := s.db.Model(&model.Message{}).Where("account = ? AND tx = ?", msg.Account, msg.Tx).Count(&count); res.Error != nil {
			return res.Error
		}
		if count > 0 {
			return nil
		}
	}
	return s.db.Create(msg).Error
}

// GetMessages lists the messages of account, newest first.
func (s *Storage) GetMessages(account uint32) ([]model.Message, error) {
	var msgs []model.Message
	if res := s.db.Where("account = ?", account).Order("height DESC, id DESC").Find(&msgs); res.Error != nil {
		return nil, res.Error
	}
	return msgs, nil
}

func (s *Storage) MarkMessageRead(id uint, read bool) error {
	return s.db.Model(&model.Message{}).Where("id = ?", id).Update("read", read).Error
}

func (s *Storage) PutSendTemplate(t *model.SendTemplate) error {
	return s.db.Save(t).Error
}

func (s *Storage) GetSendTemplates() ([]model.SendTemplate, error) {
	var templates []model.SendTemplate
	if res := s.db.Order("title").Find(&templates); res.Error != nil {
		return nil, res.Error
	}
	return templates, nil
}

func (s *Storage) DeleteSendTemplate(id uint) error {
	return s.db.Delete(&model.SendTemplate{}, id).Error
}

// PutPrices stores historical quotes, replacing existing ones.
func (s *Storage) PutPrices(prices []model.HistoricalPrice) error {
	if len(prices) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&prices).Error
}

// GetPrices returns the quotes of currency since timestamp, oldest first.
func (s *Storage) GetPrices(currency string, since int64) ([]model.HistoricalPrice, error) {
	var prices []model.HistoricalPrice
	res := s.db.Where("currency = ? AND timestamp >= ?", currency, since).Order("timestamp").Find(&prices)
	if res.Error != nil {
		return nil, res.Error
	}
	return prices, nil
}
