// Package permission 集中定义各内容模块的访问规则。
// 规则以数据表的形式给出，路由层统一调用，不在各个 handler 中各写一套。
package permission

import "strings"

// Role 是用户在社区中的角色。
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleVIP       Role = "vip"
	RoleMember    Role = "member"
	RoleBanned    Role = "banned"
)

// Roles 按权限从高到低列出全部角色。
var Roles = []Role{RoleAdmin, RoleModerator, RoleVIP, RoleMember, RoleBanned}

// ParseRole 解析角色名，未知值返回 false。
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Roles {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// Module 是内容板块。
type Module string

const (
	ModuleForum Module = "forum"
	ModuleBlog  Module = "blog"
	ModuleWiki  Module = "wiki"
	ModuleDex   Module = "dex"
)

// Modules 列出全部内容板块。
var Modules = []Module{ModuleForum, ModuleBlog, ModuleWiki, ModuleDex}

// ParseModule 解析板块名，未知值返回 false。
func ParseModule(raw string) (Module, bool) {
	module := Module(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Modules {
		if module == known {
			return module, true
		}
	}
	return "", false
}

// Principal 是一次请求的发起者，匿名访问时为 nil。
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Authored 由拥有作者信息的内容实现。
type Authored interface {
	OwnerID() string
}

// Capabilities 汇总某个主体在板块（及可选内容）上的能力。
type Capabilities struct {
	CanCreate     bool `json:"canCreate"`
	CanEdit       bool `json:"canEdit"`
	CanDelete     bool `json:"canDelete"`
	CanViewDrafts bool `json:"canViewDrafts"`
}

type policy struct {
	create      map[Role]bool
	manage      map[Role]bool
	viewDrafts  map[Role]bool
	authorOwned bool
}

var (
	communityRoles = map[Role]bool{RoleAdmin: true, RoleModerator: true, RoleVIP: true, RoleMember: true}
	staffRoles     = map[Role]bool{RoleAdmin: true, RoleModerator: true}
	adminOnly      = map[Role]bool{RoleAdmin: true}
)

// policies 即权限表：论坛对社区成员开放，其余板块仅管理员可写。
var policies = map[Module]policy{
	ModuleForum: {create: communityRoles, manage: staffRoles, viewDrafts: staffRoles, authorOwned: true},
	ModuleBlog:  {create: adminOnly, manage: adminOnly, viewDrafts: adminOnly},
	ModuleWiki:  {create: adminOnly, manage: adminOnly, viewDrafts: adminOnly},
	ModuleDex:   {create: adminOnly, manage: adminOnly, viewDrafts: adminOnly},
}

// userManagers 可以修改其他用户的角色。
var userManagers = adminOnly

func active(p *Principal) bool {
	return p != nil && strings.TrimSpace(p.ID) != "" && p.Role != RoleBanned
}

// CanCreate 判断主体能否在板块中新建内容。
func CanCreate(p *Principal, module Module) bool {
	if !active(p) {
		return false
	}
	return policies[module].create[p.Role]
}

// CanViewDrafts 判断主体能否看到非 published 状态的内容。作者身份不授予该能力。
func CanViewDrafts(p *Principal, module Module) bool {
	if !active(p) {
		return false
	}
	return policies[module].viewDrafts[p.Role]
}

// CanManageUsers 判断主体能否修改用户角色。
func CanManageUsers(p *Principal) bool {
	return active(p) && userManagers[p.Role]
}

// CanEdit 判断主体能否编辑指定内容。
func CanEdit(p *Principal, module Module, item Authored) bool {
	return canManage(p, module, item)
}

// CanDelete 判断主体能否删除指定内容。
func CanDelete(p *Principal, module Module, item Authored) bool {
	return canManage(p, module, item)
}

func canManage(p *Principal, module Module, item Authored) bool {
	if !active(p) {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}

	rules, ok := policies[module]
	if !ok {
		return false
	}
	if rules.manage[p.Role] {
		return true
	}
	if !rules.authorOwned || !rules.create[p.Role] {
		return false
	}

	// 作者信息缺失时按拒绝处理
	owner := ownerOf(item)
	return owner != "" && owner == p.ID
}

func ownerOf(item Authored) (owner string) {
	if item == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			owner = ""
		}
	}()
	return strings.TrimSpace(item.OwnerID())
}

// For 计算主体在板块上的全部能力；item 为 nil 时只评估板块级能力。
func For(p *Principal, module Module, item Authored) Capabilities {
	caps := Capabilities{
		CanCreate:     CanCreate(p, module),
		CanViewDrafts: CanViewDrafts(p, module),
	}
	if item != nil {
		caps.CanEdit = CanEdit(p, module, item)
		caps.CanDelete = CanDelete(p, module, item)
	}
	return caps
}
