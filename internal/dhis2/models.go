package dhis2

// Ref is a reference to another DHIS2 entity by identifier.
type Ref struct {
	ID string `json:"id"`
}

// Pager is the paging envelope DHIS2 wraps around collection listings.
type Pager struct {
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
	Total     int `json:"total"`
}

// Entity is the slice of a DHIS2 entity the sync engine cares about when
// listing: its generated identifier and the natural code it was filed
// under.
type Entity struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// OrgUnit is an organisation unit payload mirroring one Meerkat location.
type OrgUnit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ShortName   string `json:"shortName"`
	Code        string `json:"code"`
	OpeningDate string `json:"openingDate"`
	Parent      *Ref   `json:"parent,omitempty"`
}

// DataElement mirrors one form field.
type DataElement struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ShortName       string `json:"shortName"`
	Code            string `json:"code"`
	DomainType      string `json:"domainType"`
	ValueType       string `json:"valueType"`
	AggregationType string `json:"aggregationType"`
}

// ProgramStageElement links a data element into a program stage.
type ProgramStageElement struct {
	DataElement Ref `json:"dataElement"`
}

// ProgramStage is the single stage of an event program.
type ProgramStage struct {
	ID                       string                `json:"id,omitempty"`
	Name                     string                `json:"name"`
	Code                     string                `json:"code"`
	Program                  *Ref                  `json:"program,omitempty"`
	ProgramStageDataElements []ProgramStageElement `json:"programStageDataElements"`
}

// Program is an event-class form container (WITHOUT_REGISTRATION).
type Program struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ShortName         string `json:"shortName"`
	Code              string `json:"code"`
	ProgramType       string `json:"programType"`
	OrganisationUnits []Ref  `json:"organisationUnits"`
}

// DataSetElement links a data element into an aggregate data set.
type DataSetElement struct {
	DataElement Ref `json:"dataElement"`
}

// DataSet is a data_set-class form container with a Daily period type.
type DataSet struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	ShortName         string           `json:"shortName"`
	Code              string           `json:"code"`
	PeriodType        string           `json:"periodType"`
	DataSetElements   []DataSetElement `json:"dataSetElements"`
	OrganisationUnits []Ref            `json:"organisationUnits"`
}

// EventDataValue is one field value inside an event.
type EventDataValue struct {
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

// Event is one submission of an event-class form.
type Event struct {
	Event       string           `json:"event"`
	Program     string           `json:"program"`
	OrgUnit     string           `json:"orgUnit"`
	EventDate   string           `json:"eventDate"`
	Status      string           `json:"status"`
	DataValues  []EventDataValue `json:"dataValues"`
	StoredBy    string           `json:"storedBy,omitempty"`
	CompletedAt string           `json:"completedDate,omitempty"`
}

// EventPayload is the bulk import envelope for events.
type EventPayload struct {
	Events []Event `json:"events"`
}

// DataValue is one field value inside a data value set.
type DataValue struct {
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

// DataValueSet is one submission of a data_set-class form.
type DataValueSet struct {
	DataSet    string      `json:"dataSet"`
	Period     string      `json:"period"`
	OrgUnit    string      `json:"orgUnit"`
	DataValues []DataValue `json:"dataValues"`
}
