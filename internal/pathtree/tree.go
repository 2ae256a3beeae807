// Package pathtree implements a URL path segment trie with wildcard
// segments and longest-match lookup.
//
// Paths are split on '/'. On insert every empty piece becomes the wildcard
// segment "*", so a trailing slash binds a value to any suffix:
//
//	/api/v2/   matches /api/v2/anything
//	/api       matches /api only, or deeper paths when nothing longer is stored
//
// Queries are split without the substitution, which lets concrete request
// segments select concrete children when they exist and fall back to the
// wildcard child otherwise.
package pathtree

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Wildcard is the segment stored for empty path pieces. It matches any
// query segment during lookup.
const Wildcard = "*"

// ErrSegmentConflict reports an insert that reached a node whose fixed
// segment differs from the inserted one. Normalized routing data never
// produces it, so seeing it means a bug upstream of the tree.
var ErrSegmentConflict = errors.New("path segment conflict")

type node[T any] struct {
	segment  string
	value    T
	hasValue bool
	children map[string]*node[T]
}

// Tree is a prefix tree keyed on path segments. The zero value is an empty
// tree ready to use. A Tree is not safe for concurrent mutation; callers
// publish immutable clones instead.
type Tree[T any] struct {
	root node[T]
	size int
}

// New returns an empty tree.
func New[T any]() *Tree[T] {
	return &Tree[T]{}
}

// Insert stores value under path, overwriting a previous value at the same
// effective key. The empty path stores the value on the root node.
func (t *Tree[T]) Insert(path string, value T) error {
	if path == "" {
		t.set(&t.root, value)

		return nil
	}

	segments := strings.Split(path, "/")
	for idx, segment := range segments {
		if segment == "" {
			segments[idx] = Wildcard
		}
	}

	// Validate the walk first so a conflicting insert leaves the tree untouched.
	if err := t.check(segments); err != nil {
		return err
	}

	current := &t.root
	if current.segment == "" {
		current.segment = segments[0]
	}

	for _, segment := range segments[1:] {
		child, ok := current.children[segment]
		if !ok {
			if current.children == nil {
				current.children = make(map[string]*node[T])
			}

			child = &node[T]{segment: segment}
			current.children[segment] = child
		}

		current = child
	}

	t.set(current, value)

	return nil
}

func (t *Tree[T]) check(segments []string) error {
	current := &t.root

	if current.segment != "" && current.segment != segments[0] {
		return errors.Mark(
			errors.AssertionFailedf("insert segment %q at root fixed as %q", segments[0], current.segment),
			ErrSegmentConflict,
		)
	}

	for depth, segment := range segments[1:] {
		child, ok := current.children[segment]
		if !ok {
			return nil
		}

		if child.segment != segment {
			return errors.Mark(
				errors.AssertionFailedf("insert segment %q at depth %d fixed as %q", segment, depth+1, child.segment),
				ErrSegmentConflict,
			)
		}

		current = child
	}

	return nil
}

func (t *Tree[T]) set(n *node[T], value T) {
	if !n.hasValue {
		t.size++
	}

	n.value = value
	n.hasValue = true
}

// Find returns the value stored for the longest matching prefix of path.
func (t *Tree[T]) Find(path string) (T, bool) {
	return t.root.find(strings.Split(path, "/"))
}

func (n *node[T]) find(segments []string) (T, bool) {
	head := segments[0]

	if n.segment != Wildcard && n.segment != head {
		return n.value, n.hasValue
	}

	if rest := segments[1:]; len(rest) > 0 {
		next, ok := n.children[rest[0]]
		if !ok {
			next, ok = n.children[Wildcard]
		}

		if ok {
			if value, found := next.find(rest); found {
				return value, true
			}
		}
	}

	return n.value, n.hasValue
}

// Len returns the number of stored values.
func (t *Tree[T]) Len() int {
	return t.size
}

// Clone returns a structural copy of the tree. Values are copied as-is, so
// pointer values end up shared between both trees.
func (t *Tree[T]) Clone() *Tree[T] {
	if t == nil {
		return New[T]()
	}

	return &Tree[T]{
		root: *t.root.clone(),
		size: t.size,
	}
}

func (n *node[T]) clone() *node[T] {
	out := &node[T]{
		segment:  n.segment,
		value:    n.value,
		hasValue: n.hasValue,
	}

	if len(n.children) > 0 {
		out.children = make(map[string]*node[T], len(n.children))
		for key, child := range n.children {
			out.children[key] = child.clone()
		}
	}

	return out
}
