/*
courses.go - Course registry

PURPOSE:
  Maps a course identifier to everything submission validation needs: which
  participant category it trains, which declaration types are permitted,
  which evidence values are accepted per declaration type, which milestone
  types carry output payments, and which schedule kinds the course may be
  bound to.

  This is an explicit lookup table resolved at compile time. Handler
  selection never builds type names from strings.
*/
package engine

// =============================================================================
// COURSE DEFINITIONS
// =============================================================================

type Course struct {
	Identifier string
	Category   ParticipantCategory

	// DeclarationTypes permitted for this course, in milestone order.
	DeclarationTypes []DeclarationType

	// EvidenceByType lists accepted evidence values per declaration type.
	// A type with no entry requires no evidence.
	EvidenceByType map[DeclarationType][]EvidenceType

	// OutputTypes are the milestone types that carry output payments; the
	// per-participant output payment is divided across them.
	OutputTypes []DeclarationType

	// ScheduleKinds the course may be bound to.
	ScheduleKinds []ScheduleKind
}

var retainedEvidence = []EvidenceType{
	EvidenceTrainingEventAttended,
	EvidenceSelfStudyCompleted,
	EvidenceOther,
}

var courses = map[string]Course{
	"teacher-induction": {
		Identifier:       "teacher-induction",
		Category:         CategoryInduction,
		DeclarationTypes: []DeclarationType{DeclarationStarted, DeclarationRetained1, DeclarationRetained2, DeclarationRetained3, DeclarationRetained4, DeclarationCompleted},
		EvidenceByType: map[DeclarationType][]EvidenceType{
			DeclarationRetained1: retainedEvidence,
			DeclarationRetained2: retainedEvidence,
			DeclarationRetained3: retainedEvidence,
			DeclarationRetained4: retainedEvidence,
		},
		OutputTypes:   []DeclarationType{DeclarationRetained1, DeclarationRetained2, DeclarationRetained3, DeclarationRetained4, DeclarationCompleted},
		ScheduleKinds: []ScheduleKind{ScheduleInduction},
	},
	"teacher-mentor": {
		Identifier:       "teacher-mentor",
		Category:         CategoryMentor,
		DeclarationTypes: []DeclarationType{DeclarationStarted, DeclarationRetained1, DeclarationRetained2, DeclarationCompleted},
		EvidenceByType: map[DeclarationType][]EvidenceType{
			DeclarationRetained1: retainedEvidence,
			DeclarationRetained2: retainedEvidence,
		},
		OutputTypes:   []DeclarationType{DeclarationRetained1, DeclarationRetained2, DeclarationCompleted},
		ScheduleKinds: []ScheduleKind{ScheduleMentor},
	},
	"specialist-leading-teaching": {
		Identifier:       "specialist-leading-teaching",
		Category:         CategorySpecialist,
		DeclarationTypes: []DeclarationType{DeclarationStarted, DeclarationRetained1, DeclarationCompleted},
		EvidenceByType: map[DeclarationType][]EvidenceType{
			DeclarationRetained1: {EvidenceMaterialsEngagement, EvidenceOther},
		},
		OutputTypes:   []DeclarationType{DeclarationStarted, DeclarationRetained1, DeclarationCompleted},
		ScheduleKinds: []ScheduleKind{ScheduleSpecialist},
	},
	// Pay-on-start coaching offer: a single output milestone, no service fee
	// installments in most contracts.
	"specialist-coaching-offer": {
		Identifier:       "specialist-coaching-offer",
		Category:         CategorySpecialist,
		DeclarationTypes: []DeclarationType{DeclarationStarted},
		OutputTypes:      []DeclarationType{DeclarationStarted},
		ScheduleKinds:    []ScheduleKind{ScheduleLeadership, ScheduleSpecialist},
	},
	"specialist-headship": {
		Identifier:       "specialist-headship",
		Category:         CategorySpecialist,
		DeclarationTypes: []DeclarationType{DeclarationStarted, DeclarationRetained1, DeclarationRetained2, DeclarationCompleted},
		EvidenceByType: map[DeclarationType][]EvidenceType{
			DeclarationRetained1: {EvidenceMaterialsEngagement, EvidenceOther},
			DeclarationRetained2: {EvidenceMaterialsEngagement, EvidenceOther},
		},
		OutputTypes:   []DeclarationType{DeclarationStarted, DeclarationRetained1, DeclarationRetained2, DeclarationCompleted},
		ScheduleKinds: []ScheduleKind{ScheduleLeadership, ScheduleSpecialist},
	},
}

// CourseFor resolves a course identifier against the registry.
func CourseFor(identifier string) (Course, bool) {
	c, ok := courses[identifier]
	return c, ok
}

// Courses returns all registered course identifiers.
func Courses() []string {
	ids := make([]string, 0, len(courses))
	for id := range courses {
		ids = append(ids, id)
	}
	return ids
}

// =============================================================================
// COURSE RULES
// =============================================================================

// ValidDeclarationType reports whether the type is permitted for the course.
func (c Course) ValidDeclarationType(dt DeclarationType) bool {
	for _, t := range c.DeclarationTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// EvidenceRequired reports whether the declaration type requires evidence.
func (c Course) EvidenceRequired(dt DeclarationType) bool {
	return len(c.EvidenceByType[dt]) > 0
}

// ValidEvidence reports whether the evidence value is in the allow-list for
// the declaration type.
func (c Course) ValidEvidence(dt DeclarationType, ev EvidenceType) bool {
	for _, allowed := range c.EvidenceByType[dt] {
		if allowed == ev {
			return true
		}
	}
	return false
}

// PermitsSchedule reports whether the course may be bound to the schedule's
// kind.
func (c Course) PermitsSchedule(kind ScheduleKind) bool {
	for _, k := range c.ScheduleKinds {
		if k == kind {
			return true
		}
	}
	return false
}
