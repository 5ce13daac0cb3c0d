package domain

import (
	"slices"
	"time"
)

// Stack groups content and forms a tree through Parent and Children.
type Stack struct {
	Identity
	Metadata

	Name        string
	Description string
	Author      string
	Parent      string
	Children    []string
	Items       []string
}

// NewStack returns a transient, empty stack.
func NewStack(name string, now time.Time) Stack {
	return Stack{
		Identity: NewIdentity(),
		Metadata: NewMetadata(KindStack, now),
		Name:     name,
	}
}

func (s Stack) Clone() Stack {
	out := s
	out.Children = slices.Clone(s.Children)
	out.Items = slices.Clone(s.Items)
	return out
}

// WithItem returns a copy containing key, if not already present.
func (s Stack) WithItem(key string) Stack {
	out := s.Clone()
	if !slices.Contains(out.Items, key) {
		out.Items = append(out.Items, key)
	}
	return out
}

// WithoutItem returns a copy that no longer contains key.
func (s Stack) WithoutItem(key string) Stack {
	out := s.Clone()
	out.Items = slices.DeleteFunc(out.Items, func(k string) bool { return k == key })
	return out
}

// WithChild returns a copy listing key as a child stack.
func (s Stack) WithChild(key string) Stack {
	out := s.Clone()
	if !slices.Contains(out.Children, key) {
		out.Children = append(out.Children, key)
	}
	return out
}

// Difficulty weights how hard content is; Value lies in [0, 1].
type Difficulty struct {
	Identity
	Metadata

	DisplayName string
	Name        string
	Value       float64
}

// Priority weights how urgent content is; Value lies in [0, 1].
type Priority struct {
	Identity
	Metadata

	DisplayName string
	Name        string
	Value       float64
}

// DefaultDifficulties is the catalog seeded into a new database.
func DefaultDifficulties() []Difficulty {
	return []Difficulty{
		{Metadata: Metadata{Type: KindDifficulty}, DisplayName: "Easy", Name: "easy", Value: 0.25},
		{Metadata: Metadata{Type: KindDifficulty}, DisplayName: "Medium", Name: "medium", Value: 0.5},
		{Metadata: Metadata{Type: KindDifficulty}, DisplayName: "Hard", Name: "hard", Value: 0.75},
	}
}

// DefaultPriorities is the catalog seeded into a new database.
func DefaultPriorities() []Priority {
	return []Priority{
		{Metadata: Metadata{Type: KindPriority}, DisplayName: "Lowest", Name: "lowest", Value: 0.0},
		{Metadata: Metadata{Type: KindPriority}, DisplayName: "Low", Name: "low", Value: 0.25},
		{Metadata: Metadata{Type: KindPriority}, DisplayName: "Medium", Name: "medium", Value: 0.5},
		{Metadata: Metadata{Type: KindPriority}, DisplayName: "High", Name: "high", Value: 0.75},
		{Metadata: Metadata{Type: KindPriority}, DisplayName: "Highest", Name: "highest", Value: 1.0},
	}
}

// Subject, Teacher and Tag are labels content refers to by key.
type Subject struct {
	Identity
	Metadata

	Name string
}

type Teacher struct {
	Identity
	Metadata

	Name string
}

type Tag struct {
	Identity
	Metadata

	Value string
}

// Customfield is a user-defined name/value pair attached to content.
type Customfield struct {
	Name      string `json:"name"`
	FieldType string `json:"type"`
	Value     string `json:"value"`
}

type User struct {
	Identity
	Metadata

	Name string
}
