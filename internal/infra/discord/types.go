package discord

import "time"

// User is a Discord user object.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Email         string `json:"email,omitempty"`
	Verified      bool   `json:"verified,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Guild is a guild object. Partial guilds from /users/@me/guilds carry
// Owner and Permissions.
type Guild struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	Icon                     string   `json:"icon,omitempty"`
	Owner                    bool     `json:"owner,omitempty"`
	OwnerID                  string   `json:"owner_id,omitempty"`
	Permissions              string   `json:"permissions,omitempty"`
	Features                 []string `json:"features,omitempty"`
	ApproximateMemberCount   int      `json:"approximate_member_count,omitempty"`
	ApproximatePresenceCount int      `json:"approximate_presence_count,omitempty"`
}

// Member is a guild member.
type Member struct {
	User     *User     `json:"user,omitempty"`
	Nick     string    `json:"nick,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	Roles    []string  `json:"roles"`
	JoinedAt time.Time `json:"joined_at"`
	Pending  bool      `json:"pending,omitempty"`
}

// Channel is a guild channel.
type Channel struct {
	ID       string `json:"id"`
	Type     int    `json:"type"`
	GuildID  string `json:"guild_id,omitempty"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	ParentID string `json:"parent_id,omitempty"`
	NSFW     bool   `json:"nsfw,omitempty"`
}

// Role is a guild role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"`
	Managed     bool   `json:"managed"`
	Mentionable bool   `json:"mentionable"`
}

// Token is an OAuth2 access token response.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Meta describes how a facade result was produced.
type Meta struct {
	// CacheHit is set when the value came from the cache without an
	// upstream call.
	CacheHit bool
	// Stale is set when the value is past its TTL.
	Stale bool
	// Degraded is set when the upstream call failed and stale data was
	// served instead.
	Degraded bool
}
