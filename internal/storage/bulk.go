package storage

import "github.com/jackc/pgx/v4"

type contentRow struct {
	messageID int64
	kindID    int16
	content   string
}

type contentBulk struct {
	rows []contentRow
	idx  int
}

func (cr contentRow) toInterface() []interface{} {
	return []interface{}{cr.messageID, cr.kindID, cr.content}
}

func copyFromContents(rows []contentRow) pgx.CopyFromSource {
	return &contentBulk{
		rows: rows,
		idx:  -1,
	}
}

func (cb *contentBulk) Next() bool {
	cb.idx++
	return cb.idx < len(cb.rows)
}

func (cb *contentBulk) Values() ([]interface{}, error) {
	return cb.rows[cb.idx].toInterface(), nil
}

func (cb *contentBulk) Err() error {
	return nil
}
