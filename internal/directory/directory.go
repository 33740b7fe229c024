package directory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// User is a person known to the approval system
type User struct {
	Name           string        `mapstructure:"name"`
	Role           workflow.Role `mapstructure:"role"`
	LarkOpenID     string        `mapstructure:"lark_open_id"`
	TelegramChatID int64         `mapstructure:"telegram_chat_id"`
	PushTarget     string        `mapstructure:"push_target"`
}

// Target is one delivery address of a user
type Target struct {
	Channel entity.Channel
	Address string
}

// Targets lists the channels the user can be reached on
func (u User) Targets() []Target {
	var targets []Target
	if u.PushTarget != "" {
		targets = append(targets, Target{Channel: entity.ChannelPush, Address: u.PushTarget})
	}
	if u.LarkOpenID != "" {
		targets = append(targets, Target{Channel: entity.ChannelChatA, Address: u.LarkOpenID})
	}
	if u.TelegramChatID != 0 {
		targets = append(targets, Target{Channel: entity.ChannelChatB, Address: strconv.FormatInt(u.TelegramChatID, 10)})
	}
	return targets
}

// Directory is an immutable lookup of users by name, role and chat identity.
// It is safe for concurrent use.
type Directory struct {
	users      []User
	byName     map[string]User
	byLark     map[string]User
	byTelegram map[int64]User
}

// New validates users and builds the lookup tables
func New(users []User) (*Directory, error) {
	d := &Directory{
		byName:     make(map[string]User, len(users)),
		byLark:     make(map[string]User),
		byTelegram: make(map[int64]User),
	}

	for i, u := range users {
		u.Name = strings.TrimSpace(u.Name)
		u.Role = workflow.NormalizeRole(string(u.Role))
		if u.Name == "" {
			return nil, fmt.Errorf("directory user %d: name is required", i)
		}
		if !u.Role.IsValid() {
			return nil, fmt.Errorf("directory user %s: unknown role %q", u.Name, u.Role)
		}

		key := strings.ToLower(u.Name)
		if _, dup := d.byName[key]; dup {
			return nil, fmt.Errorf("directory user %s: duplicate name", u.Name)
		}
		d.byName[key] = u

		if u.LarkOpenID != "" {
			if other, dup := d.byLark[u.LarkOpenID]; dup {
				return nil, fmt.Errorf("directory user %s: lark_open_id already used by %s", u.Name, other.Name)
			}
			d.byLark[u.LarkOpenID] = u
		}
		if u.TelegramChatID != 0 {
			if other, dup := d.byTelegram[u.TelegramChatID]; dup {
				return nil, fmt.Errorf("directory user %s: telegram_chat_id already used by %s", u.Name, other.Name)
			}
			d.byTelegram[u.TelegramChatID] = u
		}
		d.users = append(d.users, u)
	}

	sort.SliceStable(d.users, func(i, j int) bool { return d.users[i].Name < d.users[j].Name })
	return d, nil
}

// Users returns every user sorted by name
func (d *Directory) Users() []User {
	out := make([]User, len(d.users))
	copy(out, d.users)
	return out
}

// ByName looks a user up ignoring case
func (d *Directory) ByName(name string) (User, bool) {
	u, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	return u, ok
}

// ByRole returns the users holding any of roles
func (d *Directory) ByRole(roles ...workflow.Role) []User {
	var out []User
	for _, u := range d.users {
		for _, r := range roles {
			if u.Role.Equal(r) {
				out = append(out, u)
				break
			}
		}
	}
	return out
}

// ByLarkOpenID maps a Lark sender to a user
func (d *Directory) ByLarkOpenID(openID string) (User, bool) {
	u, ok := d.byLark[openID]
	return u, ok
}

// ByTelegramChatID maps a Telegram chat to a user
func (d *Directory) ByTelegramChatID(chatID int64) (User, bool) {
	u, ok := d.byTelegram[chatID]
	return u, ok
}
