package discord

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GetCurrentUser returns the user that owns an OAuth2 access token.
func (c *Client) GetCurrentUser(ctx context.Context, token string) (*User, Meta, error) {
	header, err := bearerHeader(token)
	if err != nil {
		return nil, Meta{}, err
	}
	return fetch[*User](ctx, c, call{
		route:  "/users/@me",
		method: http.MethodGet,
		path:   "/users/@me",
		header: header,
		key:    userKey(token, "me"),
	})
}

// GetUserGuilds returns the guilds the token's user belongs to.
func (c *Client) GetUserGuilds(ctx context.Context, token string) ([]Guild, Meta, error) {
	header, err := bearerHeader(token)
	if err != nil {
		return nil, Meta{}, err
	}
	return fetch[[]Guild](ctx, c, call{
		route:  "/users/@me/guilds",
		method: http.MethodGet,
		path:   "/users/@me/guilds",
		header: header,
		key:    userKey(token, "guilds"),
	})
}

// GetGuild fetches a guild with approximate member counts using the bot token.
func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, Meta, error) {
	header, err := c.botHeader()
	if err != nil {
		return nil, Meta{}, err
	}
	path := "/guilds/" + url.PathEscape(guildID)
	return fetch[*Guild](ctx, c, call{
		route:  path,
		method: http.MethodGet,
		path:   path,
		query:  url.Values{"with_counts": {"true"}},
		header: header,
		key:    guildKey(guildID, "info"),
	})
}

// GetGuildMember fetches one member of a guild using the bot token.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) (*Member, Meta, error) {
	header, err := c.botHeader()
	if err != nil {
		return nil, Meta{}, err
	}
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(guildID), url.PathEscape(userID))
	return fetch[*Member](ctx, c, call{
		route:  path,
		method: http.MethodGet,
		path:   path,
		header: header,
		key:    guildKey(guildID, "member:"+userID),
	})
}

// GetGuildChannels lists a guild's channels using the bot token.
func (c *Client) GetGuildChannels(ctx context.Context, guildID string) ([]Channel, Meta, error) {
	header, err := c.botHeader()
	if err != nil {
		return nil, Meta{}, err
	}
	path := "/guilds/" + url.PathEscape(guildID) + "/channels"
	return fetch[[]Channel](ctx, c, call{
		route:  path,
		method: http.MethodGet,
		path:   path,
		header: header,
		key:    guildKey(guildID, "channels"),
	})
}

// GetGuildRoles lists a guild's roles using the bot token.
func (c *Client) GetGuildRoles(ctx context.Context, guildID string) ([]Role, Meta, error) {
	header, err := c.botHeader()
	if err != nil {
		return nil, Meta{}, err
	}
	path := "/guilds/" + url.PathEscape(guildID) + "/roles"
	return fetch[[]Role](ctx, c, call{
		route:  path,
		method: http.MethodGet,
		path:   path,
		header: header,
		key:    guildKey(guildID, "roles"),
	})
}

// ExchangeCode trades an OAuth2 authorization code for an access token.
// Codes are single use, so the result is neither cached nor shared.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("exchange code: %w", ErrNoToken)
	}
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	token, _, err := fetch[*Token](ctx, c, call{
		route:  "/oauth2/token",
		method: http.MethodPost,
		path:   "/oauth2/token",
		header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		body:   []byte(form.Encode()),
	})
	return token, err
}

// InvalidateUser drops every cached response for the token's user.
func (c *Client) InvalidateUser(token string) int {
	return c.cache.Invalidate("user:" + Fingerprint(token) + ":")
}

// InvalidateGuild drops every cached response for a guild.
func (c *Client) InvalidateGuild(guildID string) int {
	return c.cache.Invalidate(guildKey(guildID, ""))
}
