package postgres

// SQL queries for farm record storage

const (
	// querySaveRecord inserts a record with (kind, id) idempotency.
	// RETURNING retrieves the auto-generated ingest_seq for cursor scans.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	querySaveRecord = `
		INSERT INTO records (
			id, kind, cow_id, record_date, recorded_by,
			ingested_at, metadata, "values"
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (kind, id) DO NOTHING
		RETURNING ingest_seq
	`

	// queryListRecordsAfterCursor pages through records in strict ingest_seq
	// order. Empty filters ($2, $3) and NULL dates ($4, $5) are unbounded.
	queryListRecordsAfterCursor = `
		SELECT
			id, kind, cow_id, record_date, recorded_by,
			ingested_at, metadata, "values", ingest_seq
		FROM records
		WHERE ingest_seq > $1
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR cow_id = $3)
		  AND ($4::date IS NULL OR record_date >= $4::date)
		  AND ($5::date IS NULL OR record_date <= $5::date)
		ORDER BY ingest_seq ASC
		LIMIT $6
	`

	queryRecordsTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'records'
		)
	`
)
