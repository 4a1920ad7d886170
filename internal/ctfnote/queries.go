package ctfnote

// GraphQL operation texts for the CTFNote API. Fragments are repeated per
// operation because the server resolves each document independently.

const loginQuery = `
mutation Login($login: String!, $password: String!) {
  login(input: {login: $login, password: $password}) {
    jwt
  }
}`

const registerWithTokenQuery = `
mutation RegisterWithToken($login: String!, $password: String!, $token: String!) {
  registerWithToken(input: {login: $login, password: $password, token: $token}) {
    jwt
  }
}`

const getMeQuery = `
query Me {
  me {
    ...ProfileFragment
  }
}
fragment ProfileFragment on Profile {
  id username color description role nodeId
}`

const getCtfsQuery = `
query Ctfs {
  ctfs {
    nodes {
      ...CtfFragment
    }
  }
}
fragment CtfFragment on Ctf {
  id granted ctfUrl ctftimeUrl description endTime logoUrl startTime weight title
}`

const getPastCtfsQuery = `
query PastCtfs($first: Int, $offset: Int) {
  pastCtf(first: $first, offset: $offset) {
    nodes {
      ...CtfFragment
    }
    totalCount
  }
}
fragment CtfFragment on Ctf {
  id granted ctfUrl ctftimeUrl description endTime logoUrl startTime weight title
}`

const getIncomingCtfsQuery = `
query IncomingCtfs {
  incomingCtf {
    nodes {
      ...CtfFragment
    }
  }
}
fragment CtfFragment on Ctf {
  id granted ctfUrl ctftimeUrl description endTime logoUrl startTime weight title
}`

const getFullCtfQuery = `
query GetFullCtf($id: Int!) {
  ctf(id: $id) {
    ...FullCtfFragment
  }
}
fragment FullCtfFragment on Ctf {
  ...CtfFragment
  tasks {
    nodes {
      ...TaskFragment
    }
  }
}
fragment CtfFragment on Ctf {
  id granted ctfUrl ctftimeUrl description endTime logoUrl startTime weight title
}
fragment TaskFragment on Task {
  id title ctfId padUrl description flag solved category
  workOnTasks {
    nodes {
      ...WorkingOnFragment
    }
  }
}
fragment WorkingOnFragment on WorkOnTask {
  profileId profile {
    ...ProfileFragment
  }
}
fragment ProfileFragment on Profile {
  id username color description role
}`

const createCtfQuery = `
mutation createCtf($title: String!, $startTime: Datetime!, $endTime: Datetime!,
  $weight: Float, $ctfUrl: String, $ctftimeUrl: String, $logoUrl: String, $description: String) {
  createCtf(input: {ctf: {
    title: $title, weight: $weight, ctfUrl: $ctfUrl, ctftimeUrl: $ctftimeUrl,
    logoUrl: $logoUrl, startTime: $startTime, endTime: $endTime, description: $description
  }}) {
    ctf {
      ...CtfFragment
    }
  }
}
fragment CtfFragment on Ctf {
  nodeId id granted ctfUrl ctftimeUrl description endTime logoUrl startTime weight title
}`

const importCtfQuery = `
mutation importctf($id: Int!) {
  importCtf(input: {ctftimeId: $id}) {
    ctf {
      ...CtfFragment
    }
  }
}
fragment CtfFragment on Ctf {
  id granted ctfUrl ctftimeUrl description endTime logoUrl startTime weight title
}`

const createTaskQuery = `
mutation createTaskForCtfId($ctfId: Int!, $title: String!, $category: String, $description: String, $flag: String) {
  createTask(input: {ctfId: $ctfId, title: $title, category: $category, description: $description, flag: $flag}) {
    task {
      ...TaskFragment
    }
  }
}
fragment TaskFragment on Task {
  id title ctfId padUrl description flag solved category
  workOnTasks {
    nodes {
      ...WorkingOnFragment
    }
  }
}
fragment WorkingOnFragment on WorkOnTask {
  profileId profile {
    ...ProfileFragment
  }
}
fragment ProfileFragment on Profile {
  id username color description role
}`

const updateTaskQuery = `
mutation updateTask($id: Int!, $title: String, $description: String, $category: String, $flag: String) {
  updateTask(input: {id: $id, patch: {
    title: $title, category: $category, description: $description, flag: $flag
  }}) {
    task {
      ...TaskFragment
    }
  }
}
fragment TaskFragment on Task {
  id title ctfId padUrl description flag solved category
  workOnTasks {
    nodes {
      ...WorkingOnFragment
    }
  }
}
fragment WorkingOnFragment on WorkOnTask {
  profileId profile {
    ...ProfileFragment
  }
}
fragment ProfileFragment on Profile {
  id username color description role
}`

const deleteTaskQuery = `
mutation deleteTask($id: Int!) {
  deleteTask(input: {id: $id}) {
    deletedTaskNodeId
  }
}`

const startWorkingOnQuery = `
mutation startWorkingOn($taskId: Int!) {
  startWorkingOn(input: {taskId: $taskId}) {
    task {
      id
    }
  }
}`

const stopWorkingOnQuery = `
mutation stopWorkingOn($taskId: Int!) {
  stopWorkingOn(input: {taskId: $taskId}) {
    task {
      id
    }
  }
}`

const assignUserQuery = `
mutation assignUserToTask($taskId: Int!, $userId: Int!) {
  assignUserToTask(input: {taskId: $taskId, userId: $userId}) {
    task {
      ...TaskFragment
    }
  }
}
fragment TaskFragment on Task {
  id title ctfId padUrl description flag solved category
  workOnTasks {
    nodes {
      ...WorkingOnFragment
    }
  }
}
fragment WorkingOnFragment on WorkOnTask {
  profileId profile {
    ...ProfileFragment
  }
}
fragment ProfileFragment on Profile {
  id username color description role
}`

const unassignUserQuery = `
mutation unassignUserFromTask($taskId: Int!, $userId: Int!) {
  unassignUserFromTask(input: {taskId: $taskId, userId: $userId}) {
    task {
      ...TaskFragment
    }
  }
}
fragment TaskFragment on Task {
  id title ctfId padUrl description flag solved category
  workOnTasks {
    nodes {
      ...WorkingOnFragment
    }
  }
}
fragment WorkingOnFragment on WorkOnTask {
  profileId profile {
    ...ProfileFragment
  }
}
fragment ProfileFragment on Profile {
  id username color description role
}`

const createInvitationQuery = `
mutation createInvitationToken($role: Role!) {
  createInvitationLink(input: {role: $role}) {
    invitationLinkResponse {
      token
    }
  }
}`

const getUsersQuery = `
query getUsers {
  users {
    nodes {
      ...UserFragment
    }
  }
}
fragment UserFragment on User {
  login role id
  profile {
    ...ProfileFragment
  }
}
fragment ProfileFragment on Profile {
  id username color description role
}`

const newTokenQuery = `query newToken { newToken }`
