package reassign

import (
	"flowdesk/domain"
	"strconv"
	"strings"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

// ReferencePolicy describes where one table stores user references and which columns,
// together with the reference, identify a row.
type ReferencePolicy struct {
	Table  string
	Column string
	// AsText is set when the reference is stored as decimal text.
	AsText bool

	FilterColumn string
	FilterValue  interface{}

	// Key lists the columns that collide when both users are referenced by otherwise equal rows.
	Key []string
	// Prepare runs before the collision clean up.
	Prepare func(tx *gorm.DB, p ReferencePolicy, departing, successor types.ID) error
}

// Policies are applied in order inside one transaction.
var Policies = []ReferencePolicy{
	{Table: "raw_performer_templates", Column: "user_id", FilterColumn: "type", FilterValue: domain.PerformerTypeUser,
		Key: []string{"task_template_id", "type"}},
	{Table: "task_performers", Column: "user_id", FilterColumn: "type", FilterValue: domain.PerformerTypeUser,
		Key: []string{"task_id", "type", "group_id"}, Prepare: preparePerformers},
	{Table: "template_owners", Column: "user_id", FilterColumn: "type", FilterValue: domain.OwnerTypeUser,
		Key: []string{"template_id", "type", "group_id"}},
	{Table: "workflow_members", Column: "user_id", Key: []string{"workflow_id"}, Prepare: prepareMembers},
	{Table: "predicate_templates", Column: "value", AsText: true, FilterColumn: "field_type", FilterValue: domain.PredicateFieldTypeUser},
	{Table: "predicates", Column: "value", AsText: true, FilterColumn: "field_type", FilterValue: domain.PredicateFieldTypeUser},
	{Table: "field_values", Column: "user_id", FilterColumn: "type", FilterValue: domain.FieldTypeUser},
}

func (p ReferencePolicy) ref(id types.ID) interface{} {
	if p.AsText {
		return strconv.FormatUint(uint64(id), 10)
	}
	return id
}

func (p ReferencePolicy) scope(db *gorm.DB, alias string, id types.ID) *gorm.DB {
	q := db.Where(alias+"."+p.Column+" = ?", p.ref(id))
	if p.FilterColumn != "" {
		q = q.Where(alias+"."+p.FilterColumn+" = ?", p.FilterValue)
	}
	return q
}

// collisions lists the ids of rows referencing `of` that have a twin referencing `twin`.
func (p ReferencePolicy) collisions(tx *gorm.DB, of, twin types.ID, extra ...string) ([]types.ID, error) {
	var on []string
	for _, k := range p.Key {
		on = append(on, "t."+k+" = r."+k)
	}
	on = append(on, "t."+p.Column+" = ?")
	q := p.scope(tx.Table(p.Table+" r").Joins("JOIN "+p.Table+" t ON "+strings.Join(on, " AND "), p.ref(twin)), "r", of)
	for _, cond := range extra {
		q = q.Where(cond)
	}
	var ids []types.ID
	if err := q.Order("r.id ASC").Pluck("r.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// rewriteReferences moves the references of one table: departing rows colliding with a
// successor row are removed first, the rest is updated in bulk.
func rewriteReferences(tx *gorm.DB, p ReferencePolicy, departing, successor types.ID) error {
	if p.Prepare != nil {
		if err := p.Prepare(tx, p, departing, successor); err != nil {
			return err
		}
	}
	if len(p.Key) > 0 {
		ids, err := p.collisions(tx, departing, successor)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Exec("DELETE FROM "+p.Table+" WHERE id IN (?)", ids).Error; err != nil {
				return err
			}
		}
	}
	return p.scope(tx.Table(p.Table), p.Table, departing).UpdateColumn(p.Column, p.ref(successor)).Error
}

// preparePerformers settles performer rows both users have on the same task: a soft deleted
// successor row gives way to the departing row, and a successor covered through a group
// takes over the direct performer row of the departing user. Rows the departing user holds
// through a group the successor is no member of become direct rows, the successor would
// otherwise inherit a row no group covers.
func preparePerformers(tx *gorm.DB, p ReferencePolicy, departing, successor types.ID) error {
	deleted, err := p.collisions(tx, successor, departing, "r.directly_status = '"+string(domain.DirectlyStatusDeleted)+"'")
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		if err := tx.Exec("DELETE FROM "+p.Table+" WHERE id IN (?)", deleted).Error; err != nil {
			return err
		}
	}

	derived, err := p.collisions(tx, successor, departing, "r.source_group_id <> 0",
		"t.source_group_id = 0", "t.directly_status <> '"+string(domain.DirectlyStatusDeleted)+"'")
	if err != nil {
		return err
	}
	if len(derived) > 0 {
		if err := tx.Table(p.Table).Where("id IN (?)", derived).
			UpdateColumns(map[string]interface{}{"source_group_id": 0, "directly_status": domain.DirectlyStatusCreated}).Error; err != nil {
			return err
		}
	}

	groupsOfSuccessor := tx.Table("user_group_members").Select("group_id").Where("user_id = ?", successor).SubQuery()
	return p.scope(tx.Table(p.Table), p.Table, departing).
		Where("source_group_id <> 0 AND directly_status <> ?", domain.DirectlyStatusDeleted).
		Where("source_group_id NOT IN ?", groupsOfSuccessor).
		UpdateColumns(map[string]interface{}{"source_group_id": 0, "directly_status": domain.DirectlyStatusCreated}).Error
}

// prepareMembers hands workflow ownership to the successor where both are members.
func prepareMembers(tx *gorm.DB, p ReferencePolicy, departing, successor types.ID) error {
	var workflowIDs []types.ID
	if err := tx.Table(p.Table).Where("user_id = ? AND is_owner = ?", departing, true).
		Pluck("workflow_id", &workflowIDs).Error; err != nil {
		return err
	}
	if len(workflowIDs) == 0 {
		return nil
	}
	return tx.Table(p.Table).Where("user_id = ? AND workflow_id IN (?)", successor, workflowIDs).
		UpdateColumn("is_owner", true).Error
}
