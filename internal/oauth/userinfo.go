package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Identity is the provider-agnostic view of an authenticated user.
type Identity struct {
	Provider    Provider
	SubjectID   string
	Email       *string
	DisplayName string
	AvatarURL   string
}

// normalizeIdentity trims the raw claims and applies the provider's email
// behavior. Providers that do not expose email always yield a nil Email.
func normalizeIdentity(cfg *ProviderConfig, subject, email, name, avatar string) (*Identity, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: %s returned no subject", ErrIdentityClaimsUnavailable, cfg.Provider)
	}
	id := &Identity{
		Provider:    cfg.Provider,
		SubjectID:   subject,
		DisplayName: strings.TrimSpace(name),
		AvatarURL:   strings.TrimSpace(avatar),
	}
	if cfg.Behavior.Email {
		if e := normalizeEmail(email); e != "" {
			id.Email = &e
		}
	}
	return id, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// fetchUserInfo loads the profile from the provider's user-info endpoint.
// Response shapes differ per provider and are decoded case by case.
func fetchUserInfo(ctx context.Context, client *http.Client, cfg *ProviderConfig, accessToken string) (*Identity, error) {
	if cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("%w: %s has no user-info endpoint", ErrIdentityClaimsUnavailable, cfg.Provider)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s userinfo request: %v", ErrIdentityClaimsUnavailable, cfg.Provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck
		return nil, fmt.Errorf("%w: %s userinfo returned %d", ErrIdentityClaimsUnavailable, cfg.Provider, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, 1<<20)
	switch cfg.Provider {
	case Twitter:
		return decodeTwitterUser(cfg, body)
	case Facebook:
		return decodeFacebookUser(cfg, body)
	default:
		return decodeOIDCUser(cfg, body)
	}
}

func decodeTwitterUser(cfg *ProviderConfig, r io.Reader) (*Identity, error) {
	var body struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: twitter userinfo decode: %v", ErrIdentityClaimsUnavailable, err)
	}
	name := body.Data.Name
	if name == "" {
		name = body.Data.Username
	}
	return normalizeIdentity(cfg, body.Data.ID, "", name, body.Data.ProfileImageURL)
}

func decodeFacebookUser(cfg *ProviderConfig, r io.Reader) (*Identity, error) {
	var body struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: facebook userinfo decode: %v", ErrIdentityClaimsUnavailable, err)
	}
	return normalizeIdentity(cfg, body.ID, body.Email, body.Name, body.Picture.Data.URL)
}

func decodeOIDCUser(cfg *ProviderConfig, r io.Reader) (*Identity, error) {
	var body struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %s userinfo decode: %v", ErrIdentityClaimsUnavailable, cfg.Provider, err)
	}
	return normalizeIdentity(cfg, body.Sub, body.Email, body.Name, body.Picture)
}
