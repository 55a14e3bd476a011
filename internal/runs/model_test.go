package runs

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusRunning}:   true,
		{StatusPending, StatusFailed}:    true,
		{StatusRunning, StatusCompleted}: true,
		{StatusRunning, StatusFailed}:    true,
	}
	all := []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestInferFileType(t *testing.T) {
	cases := map[string]FileType{
		"report.pdf":    FileTypePDF,
		"REPORT.PDF":    FileTypePDF,
		"sales.csv":     FileTypeCSV,
		"photo.jpeg":    FileTypeImage,
		"diagram.webp":  FileTypeImage,
		"notes.txt":     FileTypeText,
		"README":        FileTypeText,
		" spaced.png  ": FileTypeImage,
	}
	for name, want := range cases {
		assert.Equal(t, want, InferFileType(name), name)
	}
}

func TestInputFileKeySanitizesName(t *testing.T) {
	run, file := uuid.New(), uuid.New()
	key := inputFileKey(run, file, `..\..\evil name?.csv`)
	assert.True(t, strings.HasPrefix(key, "runs/"+run.String()+"/inputs/"+file.String()+"/"))
	assert.NotContains(t, key, "..\\")
	assert.True(t, strings.HasSuffix(key, "evil_name_.csv"))
	assert.Equal(t, "upload", safeObjectName(""))
}

func TestAccessChecks(t *testing.T) {
	owner := user()
	ownerID := owner.UserID
	owned := Run{OwnerID: &ownerID}
	anon := Run{}
	conv := Conversation{UserID: ownerID}

	assert.True(t, CanAccessRun(owner, owned))
	assert.True(t, CanAccessRun(admin(), owned))
	assert.False(t, CanAccessRun(user(), owned))
	assert.False(t, CanAccessRun(Anonymous(), owned))
	assert.True(t, CanAccessRun(Anonymous(), anon))

	assert.True(t, CanDeleteRun(owner, owned))
	assert.True(t, CanDeleteRun(admin(), anon))
	assert.False(t, CanDeleteRun(Anonymous(), anon))

	assert.True(t, CanAccessConversation(admin(), conv))
	assert.False(t, CanAccessConversation(user(), conv))
	assert.True(t, CanAttachRun(owner, conv))
	assert.False(t, CanAttachRun(admin(), conv))

	// An admin role on an unauthenticated requester grants nothing.
	assert.False(t, Requester{Role: RoleAdmin}.Privileged())
}
