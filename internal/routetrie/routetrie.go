/*******************************************************************************
*
* Copyright 2021 The Fileset Authors
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

//Package routetrie implements the path trie behind the redirect table.
//
//Patterns are slash-separated. A segment can be a literal, a variable
//(":name", matching exactly one non-empty segment) or a wildcard ("*name",
//matching the entire remainder of the path, slashes included). At every
//position, literals take precedence over variables, and variables over
//wildcards. Adding a pattern twice overwrites the earlier value.
package routetrie

import "strings"

//RouteTrie maps path patterns to opaque values.
type RouteTrie struct {
	root *node
}

type node struct {
	children map[string]*node
	//varChild is entered by any single non-empty segment, bound to varName
	varChild *node
	varName  string
	//a wildcard terminates its pattern, so it stores a value, not a subtree
	wildName  string
	wildValue interface{}
	hasWild   bool

	value    interface{}
	hasValue bool
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

//NewRouteTrie creates an empty RouteTrie.
func NewRouteTrie() *RouteTrie {
	return &RouteTrie{root: newNode()}
}

//Add inserts a pattern. Patterns are matched case-insensitively (both
//patterns and lookup paths are lowercased).
func (t *RouteTrie) Add(pattern string, value interface{}) {
	current := t.root
	for _, segment := range splitPath(strings.ToLower(pattern)) {
		switch {
		case strings.HasPrefix(segment, "*"):
			current.wildName = strings.TrimPrefix(segment, "*")
			current.wildValue = value
			current.hasWild = true
			return
		case strings.HasPrefix(segment, ":"):
			if current.varChild == nil {
				current.varChild = newNode()
			}
			current.varName = strings.TrimPrefix(segment, ":")
			current = current.varChild
		default:
			child := current.children[segment]
			if child == nil {
				child = newNode()
				current.children[segment] = child
			}
			current = child
		}
	}
	current.value = value
	current.hasValue = true
}

//Get matches a path against the trie. On a match, params contains the values
//bound by ":" and "*" placeholders.
func (t *RouteTrie) Get(path string) (value interface{}, params map[string]string, ok bool) {
	return lookup(t.root, splitPath(strings.ToLower(path)), nil)
}

func lookup(current *node, segments []string, params map[string]string) (interface{}, map[string]string, bool) {
	if len(segments) == 0 {
		if current.hasValue {
			return current.value, params, true
		}
		return nil, nil, false
	}

	segment := segments[0]

	if child := current.children[segment]; child != nil {
		if value, p, ok := lookup(child, segments[1:], params); ok {
			return value, p, ok
		}
	}

	if current.varChild != nil && segment != "" {
		if value, p, ok := lookup(current.varChild, segments[1:], withParam(params, current.varName, segment)); ok {
			return value, p, ok
		}
	}

	if current.hasWild {
		return current.wildValue, withParam(params, current.wildName, strings.Join(segments, "/")), true
	}

	return nil, nil, false
}

//withParam copies before writing since sibling branches backtrack through
//the same map otherwise.
func withParam(params map[string]string, key, value string) map[string]string {
	result := make(map[string]string, len(params)+1)
	for k, v := range params {
		result[k] = v
	}
	result[key] = value
	return result
}

func splitPath(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}
