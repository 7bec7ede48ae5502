package tests

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserSignupAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("alice")
	require.NoError(t, err)

	info, err := user.userInfo()
	require.NoError(t, err)
	assert.Equal(t, "alice@mail.com", info.Email)
	assert.Equal(t, "alice", info.FirstName)
	assert.False(t, info.Admin)
	assert.Empty(t, info.Roles)
}

func TestDuplicateEmailRejected(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.newUser("bob")
	require.NoError(t, err)

	c := env.newClient()
	_, err = c.signup("bob2", "bob@mail.com", "another_password")
	assert.Error(t, err)
}

func TestLoginWithWrongPassword(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	login, err := c.signup("carol", "carol@mail.com", "carol_password")
	require.NoError(t, err)

	login.Password = "not_the_password"
	err = c.login(login)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestAuthRequiredForUserEndpoints(t *testing.T) {
	env := setupTestEnv(t)

	c := env.newClient()
	_, err := c.listUsers()
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestAdminPromoteDemote(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	require.NoError(t, err)

	user, err := env.newUser("dave")
	require.NoError(t, err)

	// Regular users cannot promote.
	err = user.promoteAdmin(user.userId)
	assert.Error(t, err)

	require.NoError(t, admin.promoteAdmin(user.userId))

	info, err := user.userInfo()
	require.NoError(t, err)
	assert.True(t, info.Admin)

	require.NoError(t, admin.demoteAdmin(user.userId))

	info, err = user.userInfo()
	require.NoError(t, err)
	assert.False(t, info.Admin)
}

func TestCannotDemoteLastAdmin(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	require.NoError(t, err)

	err = admin.demoteAdmin(admin.userId)
	assert.Error(t, err)
}

func TestListUsers(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := env.newUser(fmt.Sprintf("user%d", i))
		require.NoError(t, err)
	}

	users, err := admin.listUsers()
	require.NoError(t, err)
	assert.Len(t, users, 4) // 3 users plus the admin

	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	assert.Contains(t, emails, "user0@mail.com")
	assert.Contains(t, emails, adminEmail)
}

func TestSignupSendsVerificationEmail(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.newUser("eve")
	require.NoError(t, err)

	sent := env.notifier.sentTo("eve@mail.com")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "Verify")
}

func TestVerifyEmail(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("ivan")
	require.NoError(t, err)

	info, err := user.userInfo()
	require.NoError(t, err)
	assert.False(t, info.EmailVerified)

	sent := env.notifier.sentTo("ivan@mail.com")
	require.Len(t, sent, 1)

	// The token is the last line of the verification email body.
	lines := strings.Fields(sent[0].Body)
	token := lines[len(lines)-1]

	err = user.Post("/user/verify-email").Json(map[string]string{"token": token}).Do(nil)
	require.NoError(t, err)

	info, err = user.userInfo()
	require.NoError(t, err)
	assert.True(t, info.EmailVerified)

	// A bogus token is rejected.
	err = user.Post("/user/verify-email").Json(map[string]string{"token": "not-a-token"}).Do(nil)
	assert.Error(t, err)
}

func TestAdminDeleteUser(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	require.NoError(t, err)

	user, err := env.newUser("frank")
	require.NoError(t, err)

	err = admin.Delete(fmt.Sprintf("/user/%v", user.userId)).Do(nil)
	require.NoError(t, err)

	users, err := admin.listUsers()
	require.NoError(t, err)
	for _, u := range users {
		assert.NotEqual(t, "frank@mail.com", u.Email)
	}

	// Deleted user's token no longer resolves to a user.
	_, err = user.userInfo()
	assert.Error(t, err)
}

func TestDeleteUserBlockedByOpenTasks(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	require.NoError(t, err)

	sender, err := env.newUser("grace")
	require.NoError(t, err)
	recipient, err := env.newUser("heidi")
	require.NoError(t, err)

	_, err = sender.createTask(recipient.userId, "inspect bearing housing", "check tolerances")
	require.NoError(t, err)

	err = admin.Delete(fmt.Sprintf("/user/%v", recipient.userId)).Do(nil)
	assert.Error(t, err)
}
