package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pal-backend/internal/database"
	"pal-backend/internal/models"
)

const (
	EntityTechnician    = "technician"
	EntityJobSubmission = "job_submission"
	EntityPhoto         = "franchisee_photo"
)

var (
	ErrAlreadyUndone = errors.New("this change has already been undone")
	ErrNotUndoable   = errors.New("this change cannot be undone")
)

type LogOptions struct {
	FranchiseeID *uint
	UserID       uint
	UserName     string
	EntityType   string
	EntityID     uint
	Action       models.AuditAction
	Description  string
	Before       any
	After        any
}

func WriteLog(opts LogOptions) error {
	return WriteLogTx(database.DB, opts)
}

// WriteLogTx records a change inside the caller's transaction.
func WriteLogTx(tx *gorm.DB, opts LogOptions) error {
	// jsonb columns need the JSON literal null rather than an empty string.
	beforeStr := "null"
	afterStr := "null"

	if opts.Before != nil {
		if b, err := json.Marshal(opts.Before); err == nil {
			beforeStr = string(b)
		}
	}
	if opts.After != nil {
		if b, err := json.Marshal(opts.After); err == nil {
			afterStr = string(b)
		}
	}

	entry := models.AuditLog{
		FranchiseeID: opts.FranchiseeID,
		UserID:       opts.UserID,
		UserName:     opts.UserName,
		EntityType:   opts.EntityType,
		EntityID:     opts.EntityID,
		Action:       opts.Action,
		Description:  opts.Description,
		BeforeData:   beforeStr,
		AfterData:    afterStr,
	}

	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// UndoLog reverses a recorded change and records the reversal as a new log.
func UndoLog(logID uint, userID uint, userName string) error {
	return database.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.AuditLog
		if err := tx.First(&entry, "id = ?", logID).Error; err != nil {
			return fmt.Errorf("audit log not found: %w", err)
		}
		if entry.IsUndone {
			return ErrAlreadyUndone
		}

		switch entry.Action {
		case models.AuditActionCreate:
			if err := deleteEntity(tx, entry.EntityType, entry.EntityID); err != nil {
				return fmt.Errorf("delete entity: %w", err)
			}
		case models.AuditActionUpdate:
			if err := restoreEntity(tx, entry.EntityType, entry.EntityID, entry.BeforeData); err != nil {
				return fmt.Errorf("restore entity: %w", err)
			}
		case models.AuditActionDelete:
			if err := recreateEntity(tx, entry.EntityType, entry.BeforeData); err != nil {
				return fmt.Errorf("recreate entity: %w", err)
			}
		default:
			return ErrNotUndoable
		}

		now := time.Now()
		entry.IsUndone = true
		entry.UndoneBy = &userID
		entry.UndoneAt = &now
		if err := tx.Save(&entry).Error; err != nil {
			return fmt.Errorf("mark audit log undone: %w", err)
		}

		undo := models.AuditLog{
			FranchiseeID: entry.FranchiseeID,
			UserID:       userID,
			UserName:     userName,
			EntityType:   entry.EntityType,
			EntityID:     entry.EntityID,
			Action:       models.AuditActionUndo,
			Description:  "Undo: " + entry.Description,
			BeforeData:   entry.AfterData,
			AfterData:    entry.BeforeData,
		}
		if err := tx.Create(&undo).Error; err != nil {
			return fmt.Errorf("write undo log: %w", err)
		}
		return nil
	})
}

// deleteEntity removes a created row the same way the delete endpoints do:
// links from photos and content are cleared, and a technician who already
// has jobs cannot be removed.
func deleteEntity(tx *gorm.DB, entityType string, entityID uint) error {
	switch entityType {
	case EntityTechnician:
		var jobs int64
		if err := tx.Model(&models.JobSubmission{}).Where("technician_id = ?", entityID).Count(&jobs).Error; err != nil {
			return err
		}
		if jobs > 0 {
			return fmt.Errorf("%w: technician has job submissions", ErrNotUndoable)
		}
		if err := tx.Where("technician_id = ?", entityID).Delete(&models.User{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.FranchiseePhoto{}).Where("technician_id = ?", entityID).Update("technician_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Technician{}, "id = ?", entityID).Error
	case EntityJobSubmission:
		if err := tx.Model(&models.FranchiseePhoto{}).Where("job_id = ?", entityID).Update("job_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GeneratedContent{}).Where("job_id = ?", entityID).Update("job_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.JobSubmission{}, "id = ?", entityID).Error
	default:
		return fmt.Errorf("%w: %s", ErrNotUndoable, entityType)
	}
}

// recreateEntity restores a deleted row under its original id so references
// held by photos and generated content stay valid.
func recreateEntity(tx *gorm.DB, entityType string, dataJSON string) error {
	switch entityType {
	case EntityTechnician:
		var tech models.Technician
		if err := json.Unmarshal([]byte(dataJSON), &tech); err != nil {
			return err
		}
		tech.Franchisee = models.Franchisee{}
		return tx.Omit("Franchisee").Create(&tech).Error

	case EntityJobSubmission:
		var job models.JobSubmission
		if err := json.Unmarshal([]byte(dataJSON), &job); err != nil {
			return err
		}
		return tx.Omit("Franchisee", "Technician", "Photos").Create(&job).Error

	default:
		return fmt.Errorf("%w: %s", ErrNotUndoable, entityType)
	}
}

func restoreEntity(tx *gorm.DB, entityType string, entityID uint, dataJSON string) error {
	switch entityType {
	case EntityTechnician:
		var tech models.Technician
		if err := json.Unmarshal([]byte(dataJSON), &tech); err != nil {
			return err
		}
		return tx.Model(&models.Technician{}).Where("id = ?", entityID).Updates(map[string]interface{}{
			"name":       tech.Name,
			"email":      tech.Email,
			"phone":      tech.Phone,
			"login_code": tech.LoginCode,
			"active":     tech.Active,
		}).Error

	case EntityJobSubmission:
		var job models.JobSubmission
		if err := json.Unmarshal([]byte(dataJSON), &job); err != nil {
			return err
		}
		return tx.Model(&models.JobSubmission{}).Where("id = ?", entityID).Updates(map[string]interface{}{
			"service_category": job.ServiceCategory,
			"service_type":     job.ServiceType,
			"customer_name":    job.CustomerName,
			"customer_phone":   job.CustomerPhone,
			"address":          job.Address,
			"city":             job.City,
			"description":      job.Description,
			"status":           job.Status,
		}).Error

	default:
		return fmt.Errorf("%w: %s", ErrNotUndoable, entityType)
	}
}
