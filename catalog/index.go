package catalog

import (
	"encoding/json"
	"sort"

	"github.com/jhunt/go-log"
)

// Fields assumed when reading catalogs serialized before the schema
// grew its os / kflavor levels.
const (
	DefaultOS      = "generic OS"
	DefaultKFlavor = "generic"
)

// Resource is the metadata attached to one ImageSpec: content hash,
// size, per-agent sync state, whatever the caller needs to remember.
type Resource map[string]interface{}

type Item struct {
	Spec     ImageSpec
	Resource Resource
}

// Index maps each known ImageSpec to its Resource record.  At most one
// record exists per spec.  An Index never deletes entries; to represent
// a deletion, build a fresh Index without the entry.
type Index struct {
	images map[ImageSpec]Resource
}

func NewIndex() *Index {
	return &Index{images: make(map[ImageSpec]Resource)}
}

// SetDefault records rsrc under spec only if the spec is not already
// known.  Used when importing a discovered catalog, so that state we
// already hold is not clobbered.
func (idx *Index) SetDefault(spec ImageSpec, rsrc Resource) {
	if _, ok := idx.images[spec]; !ok {
		idx.images[spec] = rsrc
	}
}

// Set records rsrc under spec unconditionally, replacing any previous
// record wholesale.
func (idx *Index) Set(spec ImageSpec, rsrc Resource) {
	idx.images[spec] = rsrc
}

func (idx *Index) Get(spec ImageSpec) (Resource, bool) {
	rsrc, ok := idx.images[spec]
	return rsrc, ok
}

func (idx *Index) Len() int {
	return len(idx.images)
}

// Items returns the (spec, resource) pairs, ordered by spec.
func (idx *Index) Items() []Item {
	l := make([]Item, 0, len(idx.images))
	for spec, rsrc := range idx.images {
		l = append(l, Item{Spec: spec, Resource: rsrc})
	}
	sort.Slice(l, func(i, j int) bool {
		return l[i].Spec.Less(l[j].Spec)
	})
	return l
}

// Arches returns the sorted set of architectures present in the Index.
func (idx *Index) Arches() []string {
	seen := make(map[string]bool)
	for spec := range idx.images {
		seen[spec.Arch] = true
	}
	l := make([]string, 0, len(seen))
	for arch := range seen {
		l = append(l, arch)
	}
	sort.Strings(l)
	return l
}

// Dump serializes the Index as a nested JSON object, keyed (outermost
// to innermost) os, arch, subarch, kflavor, release, label.  Keys are
// emitted in sorted order, so two Indices with the same content dump
// to byte-identical output.
func (idx *Index) Dump() ([]byte, error) {
	tree := make(map[string]interface{})
	for spec, rsrc := range idx.images {
		level := tree
		for _, key := range []string{spec.OS, spec.Arch, spec.SubArch, spec.KFlavor, spec.Release} {
			next, ok := level[key].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				level[key] = next
			}
			level = next
		}
		level[spec.Label] = rsrc
	}
	return json.Marshal(tree)
}

// Load deserializes an Index from the nested JSON form.  Malformed
// input is not an error: an unreadable catalog means "nothing known
// yet", so Load returns an empty Index and lets the caller repopulate
// it from a fresh sync.
//
// Three generations of the on-disk schema are readable, told apart by
// nesting depth: 7 levels is the current schema; 6 levels predates the
// kflavor field; 5 levels predates multi-OS support as well.  Missing
// fields are backfilled with DefaultOS / DefaultKFlavor.  Any other
// depth loads as empty.  Dump always writes the current schema.
func Load(data []byte) *Index {
	idx := NewIndex()

	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		log.Debugf("unable to parse serialized image catalog (%s); starting empty", err)
		return idx
	}

	switch depth(tree) {
	case 7:
		walk(tree, 6, func(keys []string, rsrc Resource) {
			idx.Set(ImageSpec{
				OS:      keys[0],
				Arch:    keys[1],
				SubArch: keys[2],
				KFlavor: keys[3],
				Release: keys[4],
				Label:   keys[5],
			}, rsrc)
		})

	case 6:
		walk(tree, 5, func(keys []string, rsrc Resource) {
			idx.Set(ImageSpec{
				OS:      keys[0],
				Arch:    keys[1],
				SubArch: keys[2],
				KFlavor: DefaultKFlavor,
				Release: keys[3],
				Label:   keys[4],
			}, rsrc)
		})

	case 5:
		walk(tree, 4, func(keys []string, rsrc Resource) {
			idx.Set(ImageSpec{
				OS:      DefaultOS,
				Arch:    keys[0],
				SubArch: keys[1],
				KFlavor: DefaultKFlavor,
				Release: keys[2],
				Label:   keys[3],
			}, rsrc)
		})

	default:
		log.Debugf("serialized image catalog has unrecognized nesting depth %d; starting empty", depth(tree))
	}

	return idx
}

// depth reports how deeply the nested-object form nests; the resource
// record itself counts as one level.
func depth(v interface{}) int {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) == 0 {
		return 0
	}
	max := 0
	for _, sub := range m {
		if d := depth(sub); d > max {
			max = d
		}
	}
	return max + 1
}

// walk descends levels key levels into the tree and hands each leaf
// record, with the key path that led to it, to fn.
func walk(tree map[string]interface{}, levels int, fn func([]string, Resource)) {
	var descend func(node map[string]interface{}, keys []string)
	descend = func(node map[string]interface{}, keys []string) {
		for key, sub := range node {
			m, ok := sub.(map[string]interface{})
			if !ok {
				continue
			}
			if len(keys)+1 == levels {
				fn(append(keys, key), Resource(m))
			} else {
				descend(m, append(keys, key))
			}
		}
	}
	descend(tree, make([]string, 0, levels))
}
