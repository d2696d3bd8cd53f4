package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/supply_backend/config"
	"github.com/mmdatafocus/supply_backend/utils"
)

type Project struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"size:36;index;not null" json:"business_id"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Code        string          `gorm:"size:50" json:"code"`
	Description string          `gorm:"type:text" json:"description"`
	ManagerId   int             `gorm:"index" json:"manager_id"`
	IsActive    *bool           `gorm:"not null;default:true" json:"is_active"`
	Members     []ProjectMember `gorm:"foreignKey:ProjectId" json:"members,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p Project) GetBusinessId() string {
	return p.BusinessId
}

type ProjectMember struct {
	ID        int               `gorm:"primary_key" json:"id"`
	ProjectId int               `gorm:"index:idx_project_user,unique;not null" json:"project_id"`
	UserId    int               `gorm:"index:idx_project_user,unique;not null" json:"user_id"`
	Role      ProjectMemberRole `gorm:"type:enum('MANAGER','MEMBER');not null;default:MEMBER" json:"role"`
	CreatedAt time.Time         `json:"created_at"`
}

type NewProject struct {
	Name        string `json:"name" binding:"required"`
	Code        string `json:"code"`
	Description string `json:"description"`
	MemberIds   []int  `json:"member_ids"`
}

func CreateProject(ctx context.Context, input *NewProject) (*Project, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorAccessDenied
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	if len(input.MemberIds) > 0 {
		if err := utils.ValidateResourcesId[User](ctx, businessId, input.MemberIds); err != nil {
			return nil, utils.InvalidReferenceError("project member user")
		}
	}

	project := Project{
		BusinessId:  businessId,
		Name:        input.Name,
		Code:        input.Code,
		Description: input.Description,
		ManagerId:   userId,
		IsActive:    utils.NewTrue(),
	}
	for _, memberId := range utils.UniqueSlice(input.MemberIds) {
		role := ProjectMemberRoleMember
		if memberId == userId {
			role = ProjectMemberRoleManager
		}
		project.Members = append(project.Members, ProjectMember{UserId: memberId, Role: role})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedis[Project](businessId, project.ID); err != nil {
		config.LogError(config.GetLogger(), "project", "CreateProject", "clear cache", project.ID, err)
	}

	return &project, nil
}

// GetProject fetches a project of the ctx business, redis first.
func GetProject(ctx context.Context, id int) (*Project, error) {
	return GetResource[Project](ctx, id, "Members")
}

// AddProjectMember assigns a user to a project. Manager or business admin only.
func AddProjectMember(ctx context.Context, projectId int, userId int, role ProjectMemberRole) error {
	actorId, _ := utils.GetUserIdFromContext(ctx)

	access, err := ResolveProjectAccess(ctx, projectId, actorId)
	if err != nil {
		return err
	}
	if !access.IsBusinessAdmin && access.Project.ManagerId != actorId {
		return utils.ErrorAccessDenied
	}

	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	if err := utils.ValidateResourceId[User](ctx, businessId, userId); err != nil {
		return utils.InvalidReferenceError("user %d", userId)
	}

	if role == "" {
		role = ProjectMemberRoleMember
	}

	db := config.GetDB()
	member := ProjectMember{ProjectId: projectId, UserId: userId, Role: role}
	if err := db.WithContext(ctx).Create(&member).Error; err != nil {
		if utils.IsDuplicateKey(err) {
			return utils.ValidationError("user %d is already a member", userId)
		}
		return err
	}

	return utils.RemoveRedis[Project](businessId, projectId)
}

// ProjectAccess carries the authorization facts of one actor on one project.
type ProjectAccess struct {
	Project         *Project
	IsAssigned      bool
	IsBusinessAdmin bool
}

// CanModerate reports whether the actor may act on requests they do not own.
func (a *ProjectAccess) CanModerate() bool {
	return a.IsBusinessAdmin
}

// ResolveProjectAccess loads the project within the ctx business and derives
// the actor's standing on it. Projects of other businesses surface as
// ErrorRecordNotFound, never as a hint that the project exists.
func ResolveProjectAccess(ctx context.Context, projectId int, actorId int) (*ProjectAccess, error) {
	project, err := GetProject(ctx, projectId)
	if err != nil {
		return nil, err
	}

	access := ProjectAccess{Project: project}

	for _, member := range project.Members {
		if member.UserId == actorId {
			access.IsAssigned = true
			break
		}
	}
	if project.ManagerId == actorId {
		access.IsAssigned = true
	}

	if isAdmin, ok := utils.GetIsBusinessAdminFromContext(ctx); ok {
		access.IsBusinessAdmin = isAdmin
	} else {
		isAdmin, err := IsBusinessAdmin(ctx, actorId)
		if err != nil {
			return nil, err
		}
		access.IsBusinessAdmin = isAdmin
	}

	return &access, nil
}
