package models

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&Franchisee{},
		&User{},
		&Technician{},
		&JobSubmission{},
		&FranchiseePhoto{},
		&Notification{},
		&SMSConsent{},
		&GMBToken{},
		&GeneratedContent{},
		&AuditLog{},
	}
}
