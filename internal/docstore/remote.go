package docstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v60/github"

	perrors "github.com/crewdeck/crewdeck/internal/errors"
)

// remote is the narrow surface the document store needs from the hosting
// service. Behind it sits the GitHub Contents API: each project lives in
// its own repository and the document is a single file whose blob SHA is
// the write precondition.
type remote interface {
	CreateContainer(ctx context.Context, name, description string) error
	DeleteContainer(ctx context.Context, name string) error
	ListContainers(ctx context.Context, prefix string) ([]string, error)
	// ReadDoc returns the document bytes and the SHA precondition for the
	// next write. found is false when the container or document is absent.
	ReadDoc(ctx context.Context, container, path string) (data []byte, sha string, found bool, err error)
	// CreateDoc writes a document that must not yet exist and returns its SHA.
	CreateDoc(ctx context.Context, container, path string, data []byte, message string) (sha string, err error)
	// UpdateDoc replaces the document iff the stored SHA still matches.
	// A stale SHA yields ErrConflict.
	UpdateDoc(ctx context.Context, container, path string, data []byte, sha, message string) (newSHA string, err error)
	AddCollaborator(ctx context.Context, container, user string) error
	IsCollaborator(ctx context.Context, container, user string) (bool, error)
	ContainerURL(container string) string
	Owner() string
}

// clientProvider yields an authenticated API client. AppAuth satisfies it;
// tests substitute a fixed client.
type clientProvider interface {
	Client(ctx context.Context) (*github.Client, error)
}

// ghRemote implements remote on top of the GitHub API. All containers live
// under a single org owned by the service.
type ghRemote struct {
	auth  clientProvider
	owner string
}

func newGHRemote(auth clientProvider, owner string) *ghRemote {
	return &ghRemote{auth: auth, owner: owner}
}

func (r *ghRemote) CreateContainer(ctx context.Context, name, description string) error {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return err
	}
	repo := &github.Repository{
		Name:        github.String(name),
		Description: github.String(description),
		Private:     github.Bool(true),
		AutoInit:    github.Bool(true),
	}
	_, resp, err := client.Repositories.Create(ctx, r.owner, repo)
	if err != nil {
		return wrapAPIError("create container", resp, err)
	}
	return nil
}

func (r *ghRemote) DeleteContainer(ctx context.Context, name string) error {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return err
	}
	resp, err := client.Repositories.Delete(ctx, r.owner, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return wrapAPIError("delete container", resp, err)
	}
	return nil
}

func (r *ghRemote) ListContainers(ctx context.Context, prefix string) ([]string, error) {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		repos, resp, err := client.Repositories.ListByOrg(ctx, r.owner, opts)
		if err != nil {
			return nil, wrapAPIError("list containers", resp, err)
		}
		for _, repo := range repos {
			if strings.HasPrefix(repo.GetName(), prefix) {
				names = append(names, repo.GetName())
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

func (r *ghRemote) ReadDoc(ctx context.Context, container, path string) ([]byte, string, bool, error) {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return nil, "", false, err
	}
	file, _, resp, err := client.Repositories.GetContents(ctx, r.owner, container, path, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, "", false, nil
		}
		return nil, "", false, wrapAPIError("read document", resp, err)
	}
	if file == nil {
		return nil, "", false, fmt.Errorf("path %s in %s is not a file", path, container)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, "", false, fmt.Errorf("decoding document content: %w", err)
	}
	return []byte(content), file.GetSHA(), true, nil
}

func (r *ghRemote) CreateDoc(ctx context.Context, container, path string, data []byte, message string) (string, error) {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return "", err
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
	}
	result, resp, err := client.Repositories.CreateFile(ctx, r.owner, container, path, opts)
	if err != nil {
		return "", wrapAPIError("create document", resp, err)
	}
	return result.Content.GetSHA(), nil
}

func (r *ghRemote) UpdateDoc(ctx context.Context, container, path string, data []byte, sha, message string) (string, error) {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return "", err
	}
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
		SHA:     github.String(sha),
	}
	result, resp, err := client.Repositories.UpdateFile(ctx, r.owner, container, path, opts)
	if err != nil {
		// 409 means the SHA precondition failed: someone wrote between our
		// read and this write.
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return "", fmt.Errorf("document changed since read: %w", perrors.ErrConflict)
		}
		return "", wrapAPIError("update document", resp, err)
	}
	return result.Content.GetSHA(), nil
}

func (r *ghRemote) AddCollaborator(ctx context.Context, container, user string) error {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return err
	}
	opts := &github.RepositoryAddCollaboratorOptions{Permission: "push"}
	_, resp, err := client.Repositories.AddCollaborator(ctx, r.owner, container, user, opts)
	if err != nil {
		return wrapAPIError("add collaborator", resp, err)
	}
	return nil
}

func (r *ghRemote) IsCollaborator(ctx context.Context, container, user string) (bool, error) {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return false, err
	}
	ok, resp, err := client.Repositories.IsCollaborator(ctx, r.owner, container, user)
	if err != nil {
		return false, wrapAPIError("check collaborator", resp, err)
	}
	return ok, nil
}

func (r *ghRemote) Owner() string { return r.owner }

func (r *ghRemote) ContainerURL(container string) string {
	return fmt.Sprintf("https://github.com/%s/%s", r.owner, container)
}

func wrapAPIError(op string, resp *github.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return perrors.WrapAPIError("docstore", status, op, err)
}
