package snapshot

import (
	"sort"
	"strings"

	"github.com/harrybrwn/syd/git"
	"github.com/harrybrwn/syd/registry"
	"github.com/harrybrwn/syd/secrets"
	"github.com/harrybrwn/syd/state"
)

// ReadMeName is the repository readme. It and the gitleaks ignore file are
// never pruned.
const ReadMeName = "README.md"

var protected = map[string]struct{}{
	ReadMeName:         {},
	secrets.IgnoreFile: {},
}

// Protected reports whether name is a repository file that belongs to the
// repository itself rather than to a tracked path.
func Protected(name string) bool {
	_, ok := protected[name]
	return ok
}

// Plan sorts tracked entries by how they compare to the files committed at
// HEAD.
type Plan struct {
	Added     []registry.Entry
	Modified  []registry.Entry
	Unchanged []registry.Entry
	Missing   []registry.Entry
	// Behind are files that differ from HEAD only because the repository
	// moved on. They still hold the content of their last sync.
	Behind []registry.Entry
	// Orphaned are committed files that no tracked entry owns.
	Orphaned []string

	hashes map[string]string
}

// NewPlan hashes every entry that exists on disk and classifies it against
// the committed files.
func NewPlan(entries []registry.Entry, head []*git.Object) (*Plan, error) {
	p := &Plan{hashes: make(map[string]string, len(entries))}
	committed := make(map[string]*git.Object, len(head))
	for _, o := range head {
		if o.Type == git.ObjBlob {
			committed[o.Name] = o
		}
	}
	owned := make(map[string]struct{}, len(entries))
	var missingDirs []string
	for _, e := range entries {
		owned[e.RepoPath] = struct{}{}
		if e.Missing {
			p.Missing = append(p.Missing, e)
			missingDirs = append(missingDirs, e.RepoPath+"/")
			continue
		}
		hash, err := git.HashFile(e.Source)
		if err != nil {
			return nil, err
		}
		p.hashes[e.RepoPath] = hash
		obj, ok := committed[e.RepoPath]
		switch {
		case !ok:
			p.Added = append(p.Added, e)
		case obj.Hash != hash || obj.Mode != git.GitMode(e.Mode):
			p.Modified = append(p.Modified, e)
		default:
			p.Unchanged = append(p.Unchanged, e)
		}
	}
outer:
	for name := range committed {
		if _, ok := owned[name]; ok {
			continue
		}
		if Protected(name) {
			continue
		}
		for _, dir := range missingDirs {
			if strings.HasPrefix(name, dir) {
				continue outer
			}
		}
		p.Orphaned = append(p.Orphaned, name)
	}
	sort.Strings(p.Orphaned)
	return p, nil
}

// Hash returns the blob hash computed for repoPath.
func (p *Plan) Hash(repoPath string) string { return p.hashes[repoPath] }

// SplitBehind moves modified entries that are unchanged since their last
// recorded sync into Behind.
func (p *Plan) SplitBehind(synced map[string]state.Record) {
	if len(synced) == 0 {
		return
	}
	modified := p.Modified[:0]
	for _, e := range p.Modified {
		rec, ok := synced[e.RepoPath]
		if ok && rec.Hash == p.hashes[e.RepoPath] && git.GitMode(rec.Mode) == git.GitMode(e.Mode) {
			p.Behind = append(p.Behind, e)
			continue
		}
		modified = append(modified, e)
	}
	p.Modified = modified
}

// Changed returns the entries that need to be copied into the repository.
func (p *Plan) Changed() []registry.Entry {
	changed := make([]registry.Entry, 0, len(p.Added)+len(p.Modified))
	changed = append(changed, p.Added...)
	return append(changed, p.Modified...)
}

func paths(entries []registry.Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	p := make([]string, len(entries))
	for i, e := range entries {
		p[i] = e.RepoPath
	}
	return p
}
