package civic

// Shared related-collection shapes. Every entity carries sources; several
// carry links and other names.

func sourcesSpec(table, parentKey string) RelatedSpec {
	return RelatedSpec{
		Field:     "sources",
		Table:     table,
		ParentKey: parentKey,
		Fields: []FieldDef{
			{Name: "url", Kind: String, Required: true},
			{Name: "note", Kind: String},
		},
	}
}

func linksSpec(table, parentKey string) RelatedSpec {
	return RelatedSpec{
		Field:     "links",
		Table:     table,
		ParentKey: parentKey,
		Fields: []FieldDef{
			{Name: "url", Kind: String, Required: true},
			{Name: "note", Kind: String},
		},
	}
}

func otherNamesSpec(table, parentKey string) RelatedSpec {
	return RelatedSpec{
		Field:     "other_names",
		Table:     table,
		ParentKey: parentKey,
		Fields: []FieldDef{
			{Name: "name", Kind: String, Required: true},
			{Name: "note", Kind: String},
			{Name: "start_date", Kind: String},
			{Name: "end_date", Kind: String},
		},
	}
}

// Jurisdiction is the root entity a run is scoped to. Its legislative
// sessions are key-merged by identifier: a session is never deleted by an
// import, because losing one would orphan already-imported bills.
var Jurisdiction = &EntityDef{
	Type:  "jurisdiction",
	Table: "jurisdictions",
	Fields: []FieldDef{
		{Name: "name", Kind: String, Required: true},
		{Name: "url", Kind: String, Required: true},
		{Name: "classification", Kind: String, Required: true},
		{Name: "division_id", Kind: String},
		{Name: "extras", Kind: Map},
	},
	Related: []RelatedSpec{
		{
			Field:     "legislative_sessions",
			Table:     "legislative_sessions",
			ParentKey: "jurisdiction_id",
			MergeKeys: []string{"identifier"},
			Fields: []FieldDef{
				{Name: "identifier", Kind: String, Required: true},
				{Name: "name", Kind: String},
				{Name: "classification", Kind: String},
				{Name: "start_date", Kind: String},
				{Name: "end_date", Kind: String},
				{Name: "active", Kind: Bool},
			},
		},
	},
}

// Organization is a chamber, committee, or party.
var Organization = &EntityDef{
	Type:       "organization",
	Table:      "organizations",
	ScopeField: "jurisdiction_id",
	Fields: []FieldDef{
		{Name: "name", Kind: String, Required: true},
		{Name: "classification", Kind: String},
		{Name: "jurisdiction_id", Kind: String},
		{Name: "parent_id", Kind: Ref, RefType: "organization", Tolerant: true},
		{Name: "image", Kind: String},
		{Name: "extras", Kind: Map},
	},
	Related: []RelatedSpec{
		otherNamesSpec("organization_other_names", "organization_id"),
		linksSpec("organization_links", "organization_id"),
		sourcesSpec("organization_sources", "organization_id"),
	},
}

// Person is a legislator or other actor. People are not jurisdiction-scoped
// directly; their memberships tie them to organizations.
var Person = &EntityDef{
	Type:  "person",
	Table: "people",
	Fields: []FieldDef{
		{Name: "name", Kind: String, Required: true},
		{Name: "gender", Kind: String},
		{Name: "image", Kind: String},
		{Name: "birth_date", Kind: String},
		{Name: "death_date", Kind: String},
		{Name: "extras", Kind: Map},
	},
	Related: []RelatedSpec{
		otherNamesSpec("person_other_names", "person_id"),
		linksSpec("person_links", "person_id"),
		{
			Field:     "memberships",
			Table:     "memberships",
			ParentKey: "person_id",
			Fields: []FieldDef{
				{Name: "organization_id", Kind: Ref, RefType: "organization", Required: true},
				{Name: "post_id", Kind: String},
				{Name: "role", Kind: String},
				{Name: "label", Kind: String},
				{Name: "start_date", Kind: String},
				{Name: "end_date", Kind: String},
			},
		},
		sourcesSpec("person_sources", "person_id"),
	},
}

// Bill is a piece of legislation within one legislative session.
var Bill = &EntityDef{
	Type:       "bill",
	Table:      "bills",
	ScopeField: "legislative_session_id",
	Fields: []FieldDef{
		{Name: "legislative_session_id", Kind: String, Required: true},
		{Name: "identifier", Kind: String, Required: true},
		{Name: "title", Kind: String, Required: true},
		{Name: "classification", Kind: List},
		{Name: "subject", Kind: List},
		{Name: "from_organization", Kind: Ref, RefType: "organization", Tolerant: true},
		{Name: "extras", Kind: Map},
	},
	Related: []RelatedSpec{
		{
			Field:        "actions",
			Table:        "bill_actions",
			ParentKey:    "bill_id",
			OrdinalField: "order",
			Fields: []FieldDef{
				{Name: "description", Kind: String, Required: true},
				{Name: "date", Kind: String, Required: true},
				{Name: "organization_id", Kind: Ref, RefType: "organization", Required: true},
				{Name: "order", Kind: Number},
				{Name: "classification", Kind: List},
			},
			Nested: []RelatedSpec{
				{
					Field:     "related_entities",
					Table:     "bill_action_related_entities",
					ParentKey: "bill_action_id",
					Fields: []FieldDef{
						{Name: "name", Kind: String, Required: true},
						{Name: "entity_type", Kind: String},
						{Name: "organization_id", Kind: Ref, RefType: "organization", Tolerant: true},
						{Name: "person_id", Kind: Ref, RefType: "person", Tolerant: true},
					},
				},
			},
		},
		{
			Field:     "sponsorships",
			Table:     "bill_sponsorships",
			ParentKey: "bill_id",
			Fields: []FieldDef{
				{Name: "name", Kind: String, Required: true},
				{Name: "entity_type", Kind: String},
				{Name: "classification", Kind: String},
				{Name: "primary", Kind: Bool},
				{Name: "person_id", Kind: Ref, RefType: "person", Tolerant: true},
				{Name: "organization_id", Kind: Ref, RefType: "organization", Tolerant: true},
			},
		},
		{
			Field:     "related_bills",
			Table:     "bill_related_bills",
			ParentKey: "bill_id",
			Fields: []FieldDef{
				{Name: "identifier", Kind: String, Required: true},
				{Name: "legislative_session", Kind: String, Required: true},
				{Name: "relation_type", Kind: String},
				// Repaired by the post-import hook, never producer content.
				{Name: "related_bill_id", Kind: String, NoIdentity: true},
			},
		},
		{
			Field:     "versions",
			Table:     "bill_versions",
			ParentKey: "bill_id",
			Fields: []FieldDef{
				{Name: "note", Kind: String, Required: true},
				{Name: "date", Kind: String},
			},
			Nested: []RelatedSpec{
				{
					Field:     "links",
					Table:     "bill_version_links",
					ParentKey: "bill_version_id",
					Fields: []FieldDef{
						{Name: "url", Kind: String, Required: true},
						{Name: "media_type", Kind: String},
					},
				},
			},
		},
		{
			Field:     "documents",
			Table:     "bill_documents",
			ParentKey: "bill_id",
			Fields: []FieldDef{
				{Name: "note", Kind: String, Required: true},
				{Name: "date", Kind: String},
			},
			Nested: []RelatedSpec{
				{
					Field:     "links",
					Table:     "bill_document_links",
					ParentKey: "bill_document_id",
					Fields: []FieldDef{
						{Name: "url", Kind: String, Required: true},
						{Name: "media_type", Kind: String},
					},
				},
			},
		},
		{
			Field:     "abstracts",
			Table:     "bill_abstracts",
			ParentKey: "bill_id",
			Fields: []FieldDef{
				{Name: "abstract", Kind: String, Required: true},
				{Name: "note", Kind: String},
			},
		},
		{
			Field:     "other_titles",
			Table:     "bill_other_titles",
			ParentKey: "bill_id",
			Fields: []FieldDef{
				{Name: "title", Kind: String, Required: true},
				{Name: "note", Kind: String},
			},
		},
		{
			Field:     "other_identifiers",
			Table:     "bill_other_identifiers",
			ParentKey: "bill_id",
			Fields: []FieldDef{
				{Name: "identifier", Kind: String, Required: true},
				{Name: "note", Kind: String},
			},
		},
		sourcesSpec("bill_sources", "bill_id"),
	},
}

// VoteEvent records a vote taken by an organization, usually on a bill.
var VoteEvent = &EntityDef{
	Type:  "vote_event",
	Table: "vote_events",
	Fields: []FieldDef{
		{Name: "identifier", Kind: String},
		{Name: "motion_text", Kind: String, Required: true},
		{Name: "motion_classification", Kind: List},
		{Name: "start_date", Kind: String, Required: true},
		{Name: "result", Kind: String, Required: true},
		{Name: "dedupe_key", Kind: String},
		{Name: "organization_id", Kind: Ref, RefType: "organization", Required: true},
		{Name: "bill_id", Kind: Ref, RefType: "bill", Tolerant: true},
		{Name: "bill_action", Kind: String},
		// Computed during import by matching bill_action text.
		{Name: "bill_action_id", Kind: String, NoIdentity: true},
		{Name: "extras", Kind: Map},
	},
	Related: []RelatedSpec{
		{
			Field:     "counts",
			Table:     "vote_counts",
			ParentKey: "vote_event_id",
			Fields: []FieldDef{
				{Name: "option", Kind: String, Required: true},
				{Name: "value", Kind: Number},
			},
		},
		{
			Field:     "votes",
			Table:     "person_votes",
			ParentKey: "vote_event_id",
			Fields: []FieldDef{
				{Name: "option", Kind: String, Required: true},
				{Name: "voter_name", Kind: String, Required: true},
				{Name: "voter_id", Kind: Ref, RefType: "person", Tolerant: true},
				{Name: "note", Kind: String},
			},
		},
		sourcesSpec("vote_event_sources", "vote_event_id"),
	},
}

// Event is a hearing, meeting, or other scheduled occurrence.
var Event = &EntityDef{
	Type:       "event",
	Table:      "events",
	ScopeField: "jurisdiction_id",
	Fields: []FieldDef{
		{Name: "name", Kind: String, Required: true},
		{Name: "jurisdiction_id", Kind: String},
		{Name: "description", Kind: String},
		{Name: "classification", Kind: String},
		{Name: "start_date", Kind: String, Required: true},
		{Name: "end_date", Kind: String},
		{Name: "all_day", Kind: Bool},
		{Name: "status", Kind: String},
		{Name: "location_name", Kind: String},
		{Name: "location_url", Kind: String},
		{Name: "extras", Kind: Map},
	},
	Related: []RelatedSpec{
		{
			Field:     "participants",
			Table:     "event_participants",
			ParentKey: "event_id",
			Fields: []FieldDef{
				{Name: "name", Kind: String, Required: true},
				{Name: "entity_type", Kind: String},
				{Name: "note", Kind: String},
				{Name: "person_id", Kind: Ref, RefType: "person", Tolerant: true},
				{Name: "organization_id", Kind: Ref, RefType: "organization", Tolerant: true},
			},
		},
		{
			Field:        "agenda",
			Table:        "event_agenda_items",
			ParentKey:    "event_id",
			OrdinalField: "order",
			Fields: []FieldDef{
				{Name: "description", Kind: String, Required: true},
				{Name: "order", Kind: Number},
				{Name: "subjects", Kind: List},
			},
			Nested: []RelatedSpec{
				{
					Field:     "related_entities",
					Table:     "event_agenda_related_entities",
					ParentKey: "event_agenda_item_id",
					Fields: []FieldDef{
						{Name: "name", Kind: String, Required: true},
						{Name: "entity_type", Kind: String},
						{Name: "note", Kind: String},
						{Name: "person_id", Kind: Ref, RefType: "person", Tolerant: true},
						{Name: "organization_id", Kind: Ref, RefType: "organization", Tolerant: true},
						{Name: "bill_id", Kind: Ref, RefType: "bill", Tolerant: true},
					},
				},
			},
		},
		{
			Field:     "media",
			Table:     "event_media",
			ParentKey: "event_id",
			Fields: []FieldDef{
				{Name: "note", Kind: String},
				{Name: "date", Kind: String},
				{Name: "offset", Kind: Number},
			},
			Nested: []RelatedSpec{
				{
					Field:     "links",
					Table:     "event_media_links",
					ParentKey: "event_media_id",
					Fields: []FieldDef{
						{Name: "url", Kind: String, Required: true},
						{Name: "media_type", Kind: String},
					},
				},
			},
		},
		linksSpec("event_links", "event_id"),
		{
			Field:     "documents",
			Table:     "event_documents",
			ParentKey: "event_id",
			Fields: []FieldDef{
				{Name: "note", Kind: String, Required: true},
				{Name: "url", Kind: String, Required: true},
				{Name: "date", Kind: String},
				{Name: "media_type", Kind: String},
			},
		},
		sourcesSpec("event_sources", "event_id"),
	},
}

// Definitions lists all entity definitions in import dependency order:
// types later in the list may reference types earlier in it.
func Definitions() []*EntityDef {
	return []*EntityDef{Jurisdiction, Organization, Person, Bill, VoteEvent, Event}
}

// DefinitionFor returns the definition for an entity type tag, or nil.
func DefinitionFor(entityType string) *EntityDef {
	for _, d := range Definitions() {
		if d.Type == entityType {
			return d
		}
	}
	return nil
}
