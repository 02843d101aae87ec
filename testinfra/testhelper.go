package testinfra

import (
	"context"
	"flowdesk/account"
	"flowdesk/domain"
	"flowdesk/idgen"
	"flowdesk/session"
	"strconv"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	. "github.com/onsi/gomega"
)

func NextID() types.ID {
	return idgen.Next()
}

// Fixture builds rows directly in the database, bypassing services.
type Fixture struct {
	DB *gorm.DB
}

func NewFixture(testDatabase *TestDatabase) *Fixture {
	return &Fixture{DB: testDatabase.DS.GormDB()}
}

func (f *Fixture) Account(name string) *account.Account {
	a := &account.Account{ID: NextID(), Name: name, CreateTime: time.Now()}
	Expect(f.DB.Create(a).Error).To(BeNil())
	return a
}

func (f *Fixture) User(accountID types.ID, name string, mutators ...func(u *account.User)) *account.User {
	u := &account.User{ID: NextID(), AccountID: accountID, Name: name, Email: name + "@example.com",
		Status: account.UserStatusActive, IsSubscribed: true, CreateTime: time.Now()}
	for _, m := range mutators {
		m(u)
	}
	Expect(f.DB.Create(u).Error).To(BeNil())
	return u
}

func Admin(u *account.User)        { u.IsAdmin = true }
func AccountOwner(u *account.User) { u.IsAccountOwner = true }
func Inactive(u *account.User)     { u.Status = account.UserStatusInactive }

func (f *Fixture) Group(accountID types.ID, name string, memberIDs ...types.ID) *domain.UserGroup {
	g := &domain.UserGroup{ID: NextID(), AccountID: accountID, Name: name, CreateTime: time.Now()}
	Expect(f.DB.Create(g).Error).To(BeNil())
	for _, uid := range memberIDs {
		Expect(f.DB.Create(&domain.UserGroupMember{ID: NextID(), GroupID: g.ID, UserID: uid, CreateTime: time.Now()}).Error).To(BeNil())
	}
	return g
}

func (f *Fixture) Template(accountID types.ID, name string) *domain.Template {
	t := &domain.Template{ID: NextID(), AccountID: accountID, Name: name, IsActive: true, CreateTime: time.Now()}
	Expect(f.DB.Create(t).Error).To(BeNil())
	return t
}

func (f *Fixture) TemplateOwner(templateID types.ID, ownerType domain.OwnerType, targetID types.ID) *domain.TemplateOwner {
	o := &domain.TemplateOwner{ID: NextID(), TemplateID: templateID, Type: ownerType}
	if ownerType == domain.OwnerTypeGroup {
		o.GroupID = targetID
	} else {
		o.UserID = targetID
	}
	Expect(f.DB.Create(o).Error).To(BeNil())
	return o
}

func (f *Fixture) TaskTemplate(templateID types.ID, number int, requireAll bool) *domain.TaskTemplate {
	tt := &domain.TaskTemplate{ID: NextID(), TemplateID: templateID, Number: number,
		Name: "task " + strconv.Itoa(number), RequireCompletionByAll: requireAll}
	Expect(f.DB.Create(tt).Error).To(BeNil())
	return tt
}

func (f *Fixture) RawPerformer(tt *domain.TaskTemplate, performerType domain.PerformerType, targetID types.ID, fieldAPIName string) *domain.RawPerformerTemplate {
	r := &domain.RawPerformerTemplate{ID: NextID(), TemplateID: tt.TemplateID, TaskTemplateID: tt.ID,
		Type: performerType, FieldAPIName: fieldAPIName}
	switch performerType {
	case domain.PerformerTypeUser:
		r.UserID = targetID
	case domain.PerformerTypeGroup:
		r.GroupID = targetID
	}
	Expect(f.DB.Create(r).Error).To(BeNil())
	return r
}

func (f *Fixture) Workflow(accountID, templateID, starterID types.ID) *domain.Workflow {
	w := &domain.Workflow{ID: NextID(), AccountID: accountID, TemplateID: templateID, Name: "workflow",
		Status: domain.WorkflowStatusRunning, CurrentTask: 1, StarterID: starterID, CreateTime: time.Now()}
	Expect(f.DB.Create(w).Error).To(BeNil())
	return w
}

func (f *Fixture) Task(w *domain.Workflow, number int, status domain.TaskStatus, requireAll bool) *domain.Task {
	t := &domain.Task{ID: NextID(), WorkflowID: w.ID, Number: number, Name: "task " + strconv.Itoa(number),
		Status: status, RequireCompletionByAll: requireAll}
	Expect(f.DB.Create(t).Error).To(BeNil())
	return t
}

func (f *Fixture) UserPerformer(task *domain.Task, userID types.ID, mutators ...func(p *domain.TaskPerformer)) *domain.TaskPerformer {
	return f.performer(&domain.TaskPerformer{Type: domain.PerformerTypeUser, UserID: userID}, task, mutators...)
}

func (f *Fixture) GroupPerformer(task *domain.Task, groupID types.ID, mutators ...func(p *domain.TaskPerformer)) *domain.TaskPerformer {
	return f.performer(&domain.TaskPerformer{Type: domain.PerformerTypeGroup, GroupID: groupID}, task, mutators...)
}

// GroupDerived creates the coverage row of a group member.
func (f *Fixture) GroupDerived(task *domain.Task, userID, groupID types.ID, mutators ...func(p *domain.TaskPerformer)) *domain.TaskPerformer {
	return f.performer(&domain.TaskPerformer{Type: domain.PerformerTypeUser, UserID: userID, SourceGroupID: groupID}, task, mutators...)
}

func (f *Fixture) performer(p *domain.TaskPerformer, task *domain.Task, mutators ...func(p *domain.TaskPerformer)) *domain.TaskPerformer {
	p.ID = NextID()
	p.TaskID = task.ID
	p.WorkflowID = task.WorkflowID
	p.CreateTime = time.Now()
	for _, m := range mutators {
		m(p)
	}
	Expect(f.DB.Create(p).Error).To(BeNil())
	return p
}

func Completed(p *domain.TaskPerformer) {
	now := time.Now()
	p.IsCompleted = true
	p.DateCompleted = &now
}

func Deleted(p *domain.TaskPerformer) { p.DirectlyStatus = domain.DirectlyStatusDeleted }

func (f *Fixture) Member(workflowID, userID types.ID, isOwner bool) *domain.WorkflowMember {
	m := &domain.WorkflowMember{ID: NextID(), WorkflowID: workflowID, UserID: userID, IsOwner: isOwner}
	Expect(f.DB.Create(m).Error).To(BeNil())
	return m
}

func (f *Fixture) ReloadPerformer(id types.ID) *domain.TaskPerformer {
	p := &domain.TaskPerformer{}
	Expect(f.DB.Where("id = ?", id).First(p).Error).To(BeNil())
	return p
}

func (f *Fixture) ReloadTask(id types.ID) *domain.Task {
	t := &domain.Task{}
	Expect(f.DB.Where("id = ?", id).First(t).Error).To(BeNil())
	return t
}

func (f *Fixture) ReloadUser(id types.ID) *account.User {
	u := &account.User{}
	Expect(f.DB.Where("id = ?", id).First(u).Error).To(BeNil())
	return u
}

func (f *Fixture) PerformersOfTask(taskID types.ID) []domain.TaskPerformer {
	var rows []domain.TaskPerformer
	Expect(f.DB.Where("task_id = ?", taskID).Order("id ASC").Find(&rows).Error).To(BeNil())
	return rows
}

func (f *Fixture) MemberIDs(workflowID types.ID) []types.ID {
	var ids []types.ID
	Expect(f.DB.Model(&domain.WorkflowMember{}).Where("workflow_id = ?", workflowID).Order("user_id ASC").Pluck("user_id", &ids).Error).To(BeNil())
	return ids
}

// BuildSession build the session of a user
func BuildSession(u *account.User) *session.Session {
	return account.NewSession(context.Background(), u, session.AuthTypeUser)
}
