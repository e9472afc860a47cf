package models

// All lists the models owned by the loyalty schema, in dependency order.
// Used by dev auto-migration for SQLite; Postgres uses goose migrations.
func All() []any {
	return []any{
		&Tier{},
		&Venue{},
		&Customer{},
		&Benefit{},
		&TierBenefitGrant{},
		&VisitEvent{},
		&Redemption{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
