package db

// RunMigrations creates or updates the schema of all models
func RunMigrations(db *DB) error {
	return db.AutoMigrate(
		&Customer{},
		&Product{},
		&CustomerOrder{},
		&OrderItem{},
	)
}
