package reassign

import (
	"context"
	"errors"
	"flowdesk/account"
	"flowdesk/bizerror"
	"flowdesk/domain"
	"flowdesk/domain/completion"
	"flowdesk/domain/performer"
	"flowdesk/event"
	"flowdesk/infra/tracing"
	"flowdesk/persistence"
	"flowdesk/session"
	"strconv"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
)

var (
	SelectSuccessorFunc    = SelectSuccessor
	ReassignEverywhereFunc = ReassignEverywhere
	DeactivateUserFunc     = DeactivateUser

	RewriteTableFunc = rewriteReferences
)

// SelectSuccessor picks who takes over the references of a departing user: the explicit
// successor when given, else the first other active user of the account, account owner first,
// then admins, then by id.
func SelectSuccessor(ctx context.Context, departingID types.ID, explicit *types.ID) (*account.User, error) {
	db := persistence.ActiveDataSourceManager.GormDBWithContext(ctx)
	departing, err := account.LoadUser(db, departingID)
	if err != nil {
		return nil, err
	}
	if explicit != nil {
		if *explicit == departingID {
			return nil, bizerror.ErrReassignmentUnavailable
		}
		successor, err := account.LoadUser(db, *explicit)
		if err != nil {
			return nil, err
		}
		if !successor.IsActive() {
			return nil, bizerror.ErrUserInactive
		}
		return successor, nil
	}

	candidates, err := account.QueryActiveAccountUsers(db, departing.AccountID, departingID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, bizerror.ErrReassignmentUnavailable
	}
	return &candidates[0], nil
}

// ReassignEverywhere moves every reference to the departing user onto the successor in one
// transaction. It returns the open tasks the successor performs afterwards, each of them
// re-evaluated by the completion gate once committed.
func ReassignEverywhere(ctx context.Context, departing, successor *account.User) (taskIDs []types.ID, err error) {
	span, ctx := tracing.StartOperation(ctx, "reassign.ReassignEverywhere")
	defer func() { tracing.FinishOperation(span, err) }()

	if err := checkPair(departing, successor); err != nil {
		return nil, err
	}

	var records []event.EventRecord
	err = persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		taskIDs, err = reassignInTransaction(tx, departing, successor)
		if err != nil {
			return err
		}
		records = append(records, reassignedEvent(departing, successor))
		return nil
	})
	if err != nil {
		return nil, err
	}

	afterReassignment(ctx, departing, successor, taskIDs, records)
	return taskIDs, nil
}

// DeactivateUser takes a user out of its account: references move to the successor, the user
// turns inactive and leaves every group.
func DeactivateUser(ctx context.Context, userID types.ID, successorID *types.ID, s *session.Session) (*account.User, error) {
	if !s.HasAdminRights() {
		return nil, bizerror.ErrForbidden
	}
	successor, err := SelectSuccessorFunc(ctx, userID, successorID)
	if err != nil {
		return nil, err
	}
	db := persistence.ActiveDataSourceManager.GormDBWithContext(ctx)
	departing, err := account.LoadUser(db, userID)
	if err != nil {
		return nil, err
	}
	if !s.IsSuperuser && departing.AccountID != s.AccountID {
		return nil, bizerror.ErrNotFound
	}
	if err := checkPair(departing, successor); err != nil {
		return nil, err
	}

	var taskIDs []types.ID
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		taskIDs, err = reassignInTransaction(tx, departing, successor)
		if err != nil {
			return err
		}
		if err := tx.Model(departing).UpdateColumn("status", account.UserStatusInactive).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", departing.ID).Delete(&domain.UserGroupMember{}).Error
	})
	if err != nil {
		return nil, err
	}

	record := reassignedEvent(departing, successor)
	record.ActorID, record.ActorName, record.AuthType = s.Identity.ID, s.Identity.Name, s.AuthType
	afterReassignment(ctx, departing, successor, taskIDs, []event.EventRecord{record})
	return successor, nil
}

// checkPair refuses pairs no caller may ask for. It runs before any transaction is opened.
func checkPair(departing, successor *account.User) error {
	var cause error
	switch {
	case departing.ID == successor.ID:
		cause = errors.New("successor is the departing user")
	case departing.AccountID != successor.AccountID:
		cause = bizerror.ErrAccountMismatch
	default:
		return nil
	}
	err := &bizerror.ReassignmentError{DepartingID: departing.ID, SuccessorID: successor.ID, Cause: cause}
	logrus.WithFields(logrus.Fields{"departing": departing.ID, "successor": successor.ID}).Error(err)
	return err
}

func reassignInTransaction(tx *gorm.DB, departing, successor *account.User) ([]types.ID, error) {
	for _, policy := range Policies {
		if err := RewriteTableFunc(tx, policy, departing.ID, successor.ID); err != nil {
			return nil, err
		}
	}
	if departing.IsAccountOwner {
		if err := tx.Model(&account.User{}).Where("id = ?", departing.ID).UpdateColumn("is_account_owner", false).Error; err != nil {
			return nil, err
		}
		if err := tx.Model(&account.User{}).Where("id = ?", successor.ID).UpdateColumn("is_account_owner", true).Error; err != nil {
			return nil, err
		}
		successor.IsAccountOwner = true
		departing.IsAccountOwner = false
	}
	return performer.NewRepository(tx).FindActiveTaskIDsByUser(successor.ID)
}

func reassignedEvent(departing, successor *account.User) event.EventRecord {
	return event.NewEvent(event.UserReassigned, session.SystemSession(context.Background(), departing.AccountID),
		event.Target{Type: event.TargetTypeUser, ID: departing.ID}, 0, 0,
		event.UpdatedProperty{PropertyName: "userId", OldValue: strconv.FormatUint(uint64(departing.ID), 10),
			NewValue: strconv.FormatUint(uint64(successor.ID), 10)})
}

func afterReassignment(ctx context.Context, departing, successor *account.User, taskIDs []types.ID, records []event.EventRecord) {
	account.InvalidateContacts(departing.ID, successor.ID)
	event.Publish(ctx, records...)
	for _, taskID := range taskIDs {
		if _, err := completion.CheckTaskCompletionFunc(ctx, taskID); err != nil {
			logrus.WithFields(logrus.Fields{"task": taskID, "successor": successor.ID}).
				Errorf("completion check after reassignment failed: %v", err)
		}
	}
}
