// Package selection re-associates a view's selected row with its
// counterpart in freshly fetched rows. Arrays are re-sorted and
// regrouped on every refresh, so selection tracks identity keys, never
// indices.
package selection

import "github.com/sjf/psyche-search/pkg/models"

// Reconcile looks current up in rows by identity key. On a match it
// returns the new row object, so attributes like transfer progress
// reflect the latest poll. When the identity is absent it returns nil:
// actions must never operate on a row the daemon no longer reports.
func Reconcile(current *models.Row, rows []models.Row) *models.Row {
	if current == nil {
		return nil
	}
	key := current.Key()
	for i := range rows {
		if rows[i].Key() == key {
			row := rows[i]
			return &row
		}
	}
	return nil
}
