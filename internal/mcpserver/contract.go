package mcpserver

// QueryContract describes how LLM consumers should query the parliament
// database and read the values it returns.
const QueryContract = `# Parliament Data Query Contract

Entities follow the Popolo data standard: people, organizations, memberships,
posts, areas, motions, vote_events, votes, events and speeches.

## Filtering

` + "`" + `where` + "`" + ` is a JSON object of exact field equalities, all of which must hold:

` + "```" + `json
{"person_id": "p1", "organization_id": "o1"}
` + "```" + `

Only top-level fields can be filtered. ` + "`" + `page` + "`" + ` starts at 1.

## Embedding

` + "`" + `embed` + "`" + ` is a JSON array of dot-separated relation chains, for example
` + "`" + `["memberships.organization"]` + "`" + ` on a person. Use describe_resource to see the
relations of a resource.

1. Chains deeper than three entities are cut off.
2. An entity never embeds itself or one of the entities it is embedded in.
3. Plural relations (e.g. ` + "`" + `memberships` + "`" + `) embed a list, possibly empty.
4. A singular relation replaces its join field (e.g. ` + "`" + `organization_id` + "`" + `) when found.
5. Unknown relations are ignored.

## Change history

Entities with tracked fields carry a ` + "`" + `changes` + "`" + ` list, newest first. Each entry
holds a former value:

` + "```" + `json
{"property": "email", "value": "old@example.org", "start_date": "2019-01-01", "end_date": "2020-02-29"}
` + "```" + `

The current value is the field itself; it has been valid since the day after the
latest ` + "`" + `end_date` + "`" + ` of its property. Dates may be partial (` + "`" + `2019` + "`" + ` or ` + "`" + `2019-05` + "`" + `).

## Files

Fields such as ` + "`" + `image` + "`" + ` point at local copies under the public files URL.
When the remote file changed, the newer copy gets a numbered name
(` + "`" + `image.2.jpg` + "`" + `) and older copies stay reachable from the change history.
Use list_assets to see every stored copy of an entity.
`
